package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults select production", func(t *testing.T) {
		t.Setenv("DEBUG", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, ModeProduction, cfg.Mode)
		require.Equal(t, "8000", cfg.HTTP.Port)
		require.Equal(t, "5678", cfg.HTTP.DebugPort)
	})

	t.Run("DEBUG=true selects development", func(t *testing.T) {
		t.Setenv("DEBUG", "true")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, ModeDevelopment, cfg.Mode)
	})

	t.Run("unrecognized DEBUG value fails startup", func(t *testing.T) {
		t.Setenv("DEBUG", "yes")

		_, err := LoadConfig()
		require.Error(t, err)
		require.Contains(t, err.Error(), "unrecognized DEBUG value")
	})

	t.Run("environment overrides files", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "9100")
		t.Setenv("WORKER_CONCURRENCY", "2")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, "9100", cfg.HTTP.Port)
		require.Equal(t, 2, cfg.Workers.Concurrency)
	})
}
