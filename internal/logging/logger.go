// Package logging provides the structured logger used across the media
// server. The interface shape matches the sugared logger contract every
// component in this tree is written against, so a component only ever
// depends on Logger, never on zap directly.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging contract every component depends on.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)

	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)

	Level() zapcore.Level
	Sync() error
}

type sugaredLogger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func (s *sugaredLogger) Level() zapcore.Level {
	return s.level.Level()
}

// New builds a production zap logger at the given level, or a development
// (console-encoded, caller-annotated) logger when dev is true.
func New(level string, dev bool) (Logger, error) {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &sugaredLogger{SugaredLogger: base.Sugar(), level: cfg.Level}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &sugaredLogger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}
