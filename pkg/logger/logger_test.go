package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	log, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNewWithLevel(t *testing.T) {
	log, err := New(&Config{Level: "warn"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestDebugOverridesLevel(t *testing.T) {
	log, err := New(&Config{Level: "error", Debug: true})
	require.NoError(t, err)

	// Debug events must be enabled.
	assert.True(t, log.Debug().Enabled())
}

func TestTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()

	assert.False(t, log.Info().Enabled())

	log.SetLevel(zerolog.InfoLevel)
	log.Info().Msg("still safe to call")
}
