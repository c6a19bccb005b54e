package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tiltduel/config"
	"tiltduel/duel"
	"tiltduel/logging"
	"tiltduel/sensor"
	"tiltduel/transport"
)

// TiltDuel 入口：按角色发布或扫描对手，挂载对战并提供管理接口
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "tiltduel: %v\n", err)
		os.Exit(2)
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := logging.InitLogger(cfg.LogFile, cfg.Console); err != nil {
		panic(err)
	}
	defer logging.SyncLogger()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg); err != nil {
		logging.Log.Errorf("tiltduel: %v", err)
		logging.SyncLogger()
		os.Exit(1)
	}
	logging.Log.Info("Shutting down...")
}

func run(ctx context.Context, quit context.CancelFunc, cfg config.Config) error {
	src, closeSrc, err := sensorSource(cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	impair := transport.Impairment{DropProb: cfg.DropProb, DelayMin: cfg.DelayMin, DelayMax: cfg.DelayMax}
	var dir *transport.Directory
	var adv transport.Advertiser
	var browser transport.Browser
	switch cfg.Discovery {
	case "loopback":
		dir = transport.NewDirectory()
		adv, browser = dir, dir
	default:
		mdns := transport.MDNS{}
		adv, browser = mdns, mdns
	}
	// 每次进入大厅都用一条新会话
	open := func() (duel.Transport, *transport.Stats) {
		sess := transport.NewSession(transport.Options{
			ListenAddr: cfg.ListenAddr,
			Advertiser: adv,
			Browser:    browser,
			Impair:     impair,
			Name:       cfg.Name,
		})
		return sess, sess.Stats()
	}

	lobby, err := duel.NewLobby(duel.Config{
		Role:           cfg.Role,
		Name:           cfg.Name,
		Tuning:         duel.DefaultTuning(),
		Sensor:         src,
		SensorInterval: sensor.DefaultInterval,
	}, open, nil)
	if err != nil {
		return err
	}

	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: duel.NewAdminMux(lobby)}
		go func() {
			logging.Log.Infof("TiltDuel admin listening on http://%s/status", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Log.Errorf("admin listen: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if dir != nil {
		go sparring(ctx, cfg, dir, impair)
	}
	if cfg.Sensor != "stdin" {
		go commands(ctx, os.Stdin, os.Stdout, lobby, quit)
	}
	return lobby.Run(ctx)
}

// sensorSource 按配置选择姿态来源；来源跨多次挂载复用，退出时由 close 释放
func sensorSource(cfg config.Config) (sensor.Source, func(), error) {
	if addr, ok := cfg.UDPAddr(); ok {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("sensor udp: %w", err)
		}
		logging.Log.Infof("sensor: listening for samples on udp %s", pc.LocalAddr())
		return sensor.Datagrams{Conn: pc}, func() { _ = pc.Close() }, nil
	}
	switch cfg.Sensor {
	case "stdin":
		return sensor.NewLineFeed(os.Stdin), func() {}, nil
	default:
		return sensor.Wobble{RestBeta: duel.DefaultTuning().RestAngle, Amplitude: 0.4}, func() {}, nil
	}
}

// commands 读取标准输入的控制命令：fire / rematch / lobby / status / quit
// 每条命令作用于大厅当前挂载的对战
func commands(ctx context.Context, in io.Reader, out io.Writer, lobby *duel.Lobby, quit context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		var err error
		m := lobby.Current()
		switch cmd := strings.ToLower(strings.TrimSpace(sc.Text())); cmd {
		case "":
			continue
		case "fire", "f":
			err = m.Fire(ctx)
		case "rematch", "r":
			err = m.Rematch(ctx)
		case "lobby", "l":
			err = lobby.Leave()
		case "status", "s":
			st := m.Status()
			fmt.Fprintf(out, "[%s] %s  you=(%.0f,%.0f) opponent=(%.0f,%.0f) bullets=%d\n",
				st.Phase, st.Label, st.Local.X, st.Local.Y, st.Remote.X, st.Remote.Y, st.Bullets)
		case "quit", "q", "exit":
			quit()
			return
		default:
			fmt.Fprintf(out, "unknown command %q (fire, rematch, lobby, status, quit)\n", cmd)
		}
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// sparring 本机对手：loopback 模式下以相反角色进入第二个大厅，定时开火并自动再来一局
func sparring(ctx context.Context, cfg config.Config, dir *transport.Directory, impair transport.Impairment) *duel.Lobby {
	role := transport.RoleClient
	if cfg.Role == transport.RoleClient {
		role = transport.RoleHost
	}
	open := func() (duel.Transport, *transport.Stats) {
		sess := transport.NewSession(transport.Options{
			ListenAddr: "127.0.0.1:0",
			Advertiser: dir,
			Browser:    dir,
			Impair:     impair,
			Name:       sparringName,
		})
		return sess, sess.Stats()
	}
	bot, err := duel.NewLobby(duel.Config{
		Role:           role,
		Name:           sparringName,
		Tuning:         duel.DefaultTuning(),
		Sensor:         sensor.Wobble{RestBeta: duel.DefaultTuning().RestAngle, Amplitude: 0.5, Period: 3 * time.Second},
		SensorInterval: sensor.DefaultInterval,
	}, open, nil)
	if err != nil {
		logging.Log.Errorf("sparring: %v", err)
		return nil
	}
	go func() {
		ticker := time.NewTicker(1200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-bot.Done():
				return
			case <-ticker.C:
				m := bot.Current()
				switch m.Status().Phase {
				case duel.PhasePlaying.String():
					_ = m.Fire(ctx)
				case duel.PhaseWon.String(), duel.PhaseLost.String():
					_ = m.Rematch(ctx)
				}
			}
		}
	}()
	go func() {
		if err := bot.Run(ctx); err != nil {
			logging.Log.Warnf("sparring: %v", err)
		}
	}()
	return bot
}

const sparringName = "sparring-bot"
