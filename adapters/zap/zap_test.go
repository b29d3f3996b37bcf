package zapadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	l.Debugf("dropped")
	l.Infof("unblocked %s", "user-1")
	l.Errorf("Failed to extract key: %v", "bad header")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "lockout", entries[0].LoggerName)
	assert.Equal(t, "unblocked user-1", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestZapLogger_NilIsNop(t *testing.T) {
	assert.NotPanics(t, func() { New(nil).Warnf("nothing") })
}
