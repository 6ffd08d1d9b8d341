package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew_DefaultsToInfoOnBadLevel(t *testing.T) {
	l, err := New("not-a-level", false)
	assert.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l.Level())
}

func TestNew_HonoursDebugLevel(t *testing.T) {
	l, err := New("debug", true)
	assert.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l.Level())
}

func TestNewNop_NeverPanics(t *testing.T) {
	l := NewNop()
	l.Info("hello")
	l.Warnw("careful", "session_id", "abc123")
	assert.NoError(t, l.Sync())
}
