package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局日志；InitLogger 之前是 no-op，测试里各包直接调用也不会输出
var Log = zap.NewNop().Sugar()

// 对战日志以帧为单位增长，单局就可能写满数 MB
const (
	maxFileMB  = 10
	maxBackups = 3
	maxAgeDays = 7
)

func rollingFile(path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxFileMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	})
}

func duelEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	})
}

// InitLogger 把日志写到 filePath（按大小滚动）
// Debug 只进文件：过期 MOVE 与坏传感器样本按帧率出现，GAME_OVER 重发在等待 ACK 期间持续出现，
// 放到终端会淹没 status 命令的输出。console 为 true 时终端只显示 Info 以上
func InitLogger(filePath string, console bool) error {
	enc := duelEncoder()
	core := zapcore.NewCore(enc, rollingFile(filePath), zapcore.DebugLevel)
	if console {
		core = zapcore.NewTee(core, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.InfoLevel))
	}
	Log = zap.New(core, zap.AddCaller()).Named("tiltduel").Sugar()
	return nil
}

// SyncLogger 退出前刷出缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}
