package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the process wide logger. It discards everything until InitLogging runs.
	Logger = zap.NewNop()

	once  sync.Once
	level zap.AtomicLevel
	ready bool
)

// InitLogging builds the process logger once. mode is "development" or "production".
// Rotation and format come from the logging.* viper keys.
func InitLogging(mode, logDir, logFile string) {
	once.Do(func() {
		Logger = build(mode, filepath.Join(logDir, logFile))
	})
}

func build(mode, path string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	opts := []zap.Option{}
	if mode == "development" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		opts = append(opts, zap.AddCaller(), zap.Development())
	}
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if text := viper.GetString("logging.level"); text != "" {
		if err := level.UnmarshalText([]byte(text)); err != nil {
			panic(err)
		}
	}
	ready = true

	var out zapcore.WriteSyncer = zapcore.AddSync(rotating(path))
	if viper.GetBool("logging.console") {
		out = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), out)
	}
	return zap.New(zapcore.NewCore(encoder(encCfg), out, level), opts...)
}

// SetLevel changes the level of a logger built by InitLogging. It is a no-op before that.
func SetLevel(text string) error {
	if !ready {
		return nil
	}
	return level.UnmarshalText([]byte(text))
}

func encoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	if viper.GetString("logging.format") == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func rotating(path string) *lumberjack.Logger {
	maxSize := viper.GetInt("logging.max_size_mb")
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: viper.GetInt("logging.max_backups"),
		MaxAge:     viper.GetInt("logging.max_age_days"),
		LocalTime:  true,
	}
}
