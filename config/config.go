package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tiltduel/transport"
)

const envPrefix = "TILTDUEL_"

// Config 进程级启动参数；对战数值见 duel.Tuning
type Config struct {
	Role       transport.Role
	Name       string
	ListenAddr string // 主机端 websocket 监听地址
	AdminAddr  string // 为空则不启动管理接口
	LogFile    string
	Console    bool
	Sensor     string // wobble | stdin | udp://host:port
	Discovery  string // mdns | loopback
	DropProb   float64
	DelayMin   time.Duration
	DelayMax   time.Duration
}

func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "tiltduel"
	}
	return Config{
		Name:       host,
		ListenAddr: ":0",
		AdminAddr:  "127.0.0.1:8080",
		LogFile:    "tiltduel.log",
		Sensor:     "wobble",
		Discovery:  "mdns",
	}
}

// Load 依次读取 .env、TILTDUEL_* 环境变量、命令行参数，后者覆盖前者
// .env 路径可由 TILTDUEL_ENV_FILE 指定；文件不存在时跳过
func Load(args []string) (Config, error) {
	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	role := env("ROLE", "")
	var err error
	if cfg, err = fromEnv(cfg); err != nil {
		return Config{}, err
	}

	flags := flag.NewFlagSet("tiltduel", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&role, "role", role, "host (advertise) or client (scan)")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "display name advertised to the peer")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "host websocket listen address")
	flags.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "admin HTTP address, empty disables")
	flags.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path (rotated)")
	flags.BoolVar(&cfg.Console, "console", cfg.Console, "also log to stderr")
	flags.StringVar(&cfg.Sensor, "sensor", cfg.Sensor, "wobble | stdin | udp://host:port")
	flags.StringVar(&cfg.Discovery, "discovery", cfg.Discovery, "mdns | loopback")
	flags.Float64Var(&cfg.DropProb, "drop", cfg.DropProb, "simulated outbound drop probability")
	flags.DurationVar(&cfg.DelayMin, "delay-min", cfg.DelayMin, "simulated minimum send delay")
	flags.DurationVar(&cfg.DelayMax, "delay-max", cfg.DelayMax, "simulated maximum send delay")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Role, err = transport.ParseRole(role); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv(cfg Config) (Config, error) {
	cfg.Name = env("NAME", cfg.Name)
	cfg.ListenAddr = env("LISTEN_ADDR", cfg.ListenAddr)
	cfg.AdminAddr = env("ADMIN_ADDR", cfg.AdminAddr)
	cfg.LogFile = env("LOG_FILE", cfg.LogFile)
	cfg.Sensor = env("SENSOR", cfg.Sensor)
	cfg.Discovery = env("DISCOVERY", cfg.Discovery)

	var err error
	if v, ok := lookup("CONSOLE"); ok {
		if cfg.Console, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("%sCONSOLE: %w", envPrefix, err)
		}
	}
	if v, ok := lookup("DROP_PROB"); ok {
		if cfg.DropProb, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("%sDROP_PROB: %w", envPrefix, err)
		}
	}
	if v, ok := lookup("DELAY_MIN"); ok {
		if cfg.DelayMin, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("%sDELAY_MIN: %w", envPrefix, err)
		}
	}
	if v, ok := lookup("DELAY_MAX"); ok {
		if cfg.DelayMax, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("%sDELAY_MAX: %w", envPrefix, err)
		}
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func env(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func (c Config) Validate() error {
	switch {
	case c.Role != transport.RoleHost && c.Role != transport.RoleClient:
		return fmt.Errorf("role must be host or client")
	case c.Name == "":
		return fmt.Errorf("name must not be empty")
	case c.DropProb < 0 || c.DropProb > 1:
		return fmt.Errorf("drop probability %g outside [0,1]", c.DropProb)
	case c.DelayMin < 0 || c.DelayMax < c.DelayMin:
		return fmt.Errorf("invalid delay range %v..%v", c.DelayMin, c.DelayMax)
	}
	switch c.Discovery {
	case "mdns", "loopback":
	default:
		return fmt.Errorf("unknown discovery %q", c.Discovery)
	}
	if c.Sensor != "wobble" && c.Sensor != "stdin" && !strings.HasPrefix(c.Sensor, "udp://") {
		return fmt.Errorf("unknown sensor %q", c.Sensor)
	}
	return nil
}

// UDPAddr 传感器为 udp://host:port 时返回监听地址
func (c Config) UDPAddr() (string, bool) {
	return strings.CutPrefix(c.Sensor, "udp://")
}
