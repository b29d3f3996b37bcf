// Package logging builds the ratelimiter.Logger selected by configuration.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	stdlogadapter "github.com/jassus213/go-lockout/adapters/log"
	logrusadapter "github.com/jassus213/go-lockout/adapters/logrus"
	zapadapter "github.com/jassus213/go-lockout/adapters/zap"
	zerologadapter "github.com/jassus213/go-lockout/adapters/zerolog"
	"github.com/jassus213/go-lockout/internal/config"
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the logger for cfg and a function that flushes it.
func New(cfg config.LogConfig) (ratelimiter.Logger, func(), error) {
	return build(cfg, os.Stdout)
}

func build(cfg config.LogConfig, out io.Writer) (ratelimiter.Logger, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "", "zap":
		z, err := newZap(cfg)
		if err != nil {
			return nil, noop, err
		}
		return zapadapter.New(z), func() { _ = z.Sync() }, nil

	case "zerolog":
		var w io.Writer = out
		if cfg.Format == "console" {
			w = zerolog.ConsoleWriter{Out: out}
		}
		zl := zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(cfg.Level))
		return zerologadapter.New(&zl), noop, nil

	case "logrus":
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(logrusLevel(cfg.Level))
		if cfg.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return logrusadapter.New(l), noop, nil

	case "std":
		return stdlogadapter.New(log.New(out, "lockout ", log.LstdFlags)).WithDebug(cfg.Level == "debug"), noop, nil

	default:
		return nil, noop, fmt.Errorf("unsupported log backend %q", cfg.Backend)
	}
}

func newZap(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Env == "development" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel(cfg.Level))

	if cfg.Format == "console" {
		zc.Encoding = "console"
	} else {
		zc.Encoding = "json"
	}
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	z, err := zc.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return z, nil
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func zerologLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

func logrusLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
