package config

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should return defaults when nothing is set", func(t *testing.T) {
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, cfg.Executor.VisibilityDuration)
		assert.Equal(t, 2*time.Second, cfg.Executor.CancelGraceWindow)
		assert.Equal(t, 64, cfg.Executor.CommandBuffer)
		assert.Equal(t, 16, cfg.Executor.SubscriberBuffer)
		assert.Equal(t, "info", cfg.Runtime.LogLevel)
		assert.False(t, cfg.Runtime.LogJSON)
	})
	t.Run("Should read environment variables over defaults", func(t *testing.T) {
		t.Setenv("EXECUTOR_VISIBILITY_DURATION", "30s")
		t.Setenv("EXECUTOR_COMMAND_BUFFER", "128")
		t.Setenv("RUNTIME_LOG_LEVEL", "debug")
		t.Setenv("RUNTIME_LOG_JSON", "true")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.Executor.VisibilityDuration)
		assert.Equal(t, 128, cfg.Executor.CommandBuffer)
		assert.Equal(t, "debug", cfg.Runtime.LogLevel)
		assert.True(t, cfg.Runtime.LogJSON)
	})
	t.Run("Should accept extended duration syntax", func(t *testing.T) {
		t.Setenv("EXECUTOR_VISIBILITY_DURATION", "1d12h")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 36*time.Hour, cfg.Executor.VisibilityDuration)
	})
	t.Run("Should apply explicit overrides last", func(t *testing.T) {
		t.Setenv("EXECUTOR_CANCEL_GRACE_WINDOW", "10s")
		override := &Config{
			Executor: ExecutorConfig{CancelGraceWindow: 250 * time.Millisecond},
		}
		cfg, err := NewService().Load(context.Background(), override)
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.Executor.CancelGraceWindow)
		// untouched fields keep their earlier values
		assert.Equal(t, 64, cfg.Executor.CommandBuffer)
	})
	t.Run("Should skip nil overrides", func(t *testing.T) {
		cfg, err := NewService().Load(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, cfg.Executor.VisibilityDuration)
	})
	t.Run("Should reject an invalid log level", func(t *testing.T) {
		t.Setenv("RUNTIME_LOG_LEVEL", "loud")
		_, err := NewService().Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
	t.Run("Should reject a malformed duration", func(t *testing.T) {
		t.Setenv("EXECUTOR_VISIBILITY_DURATION", "soon")
		_, err := NewService().Load(context.Background())
		require.Error(t, err)
	})
}

func TestEnvMappings(t *testing.T) {
	t.Run("Should map every tagged field to its config path", func(t *testing.T) {
		mappings := envMappings(reflect.TypeOf(Config{}), "")
		assert.Equal(t, "executor.visibility_duration", mappings["EXECUTOR_VISIBILITY_DURATION"])
		assert.Equal(t, "executor.cancel_grace_window", mappings["EXECUTOR_CANCEL_GRACE_WINDOW"])
		assert.Equal(t, "runtime.log_level", mappings["RUNTIME_LOG_LEVEL"])
	})
}
