package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orizon-lang/bitactor/internal/config"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNew_LevelIsAdjustable(t *testing.T) {
	log, lvl, err := New(config.LoggingConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	defer func() { _ = log.Sync() }()

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	lvl.SetLevel(zapcore.DebugLevel)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, _, err = New(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestSampled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Sampled(zap.New(core), 3)
	for i := 0; i < 10; i++ {
		log.Debug("cycle budget exceeded", zap.Int("i", i))
	}
	log.Debug("other")

	got := logs.FilterMessage("cycle budget exceeded").All()
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, int64(i*3), e.ContextMap()["i"])
	}
	assert.Equal(t, 1, logs.FilterMessage("other").Len())

	plain := zap.NewNop()
	assert.Same(t, plain, Sampled(plain, 1))
}
