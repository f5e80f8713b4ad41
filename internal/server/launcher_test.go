package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	cfg "github.com/quayside/conveyor/config"
)

type launchRecorder struct {
	calls []string
}

func (lr *launchRecorder) migrate() func(context.Context) error {
	return func(context.Context) error {
		lr.calls = append(lr.calls, "migrate")
		return nil
	}
}

func (lr *launchRecorder) failingMigrate(err error) func(context.Context) error {
	return func(context.Context) error {
		lr.calls = append(lr.calls, "migrate")
		return err
	}
}

func (lr *launchRecorder) serve(name string) serveFunc {
	return func(context.Context) error {
		lr.calls = append(lr.calls, name)
		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLauncherSelectsDevelopmentForTruthyEncodings(t *testing.T) {
	for _, value := range []string{"true", "True", "TRUE", "1"} {
		mode, err := cfg.ParseMode(value)
		require.NoError(t, err)

		rec := &launchRecorder{}
		launcher := NewLauncher(testLogger(), &cfg.Config{Mode: mode},
			rec.migrate(), rec.serve("dev"), rec.serve("prod"))

		require.NoError(t, launcher.Run(context.Background()))
		require.Equal(t, []string{"migrate", "dev"}, rec.calls, "value %q", value)
	}
}

func TestLauncherSelectsProductionOtherwise(t *testing.T) {
	for _, value := range []string{"", "false", "False", "FALSE", "0"} {
		mode, err := cfg.ParseMode(value)
		require.NoError(t, err)

		rec := &launchRecorder{}
		launcher := NewLauncher(testLogger(), &cfg.Config{Mode: mode},
			rec.migrate(), rec.serve("dev"), rec.serve("prod"))

		require.NoError(t, launcher.Run(context.Background()))
		require.Equal(t, []string{"migrate", "prod"}, rec.calls, "value %q", value)
	}
}

func TestLauncherMigratesExactlyOnceBeforeServing(t *testing.T) {
	for _, mode := range []cfg.Mode{cfg.ModeDevelopment, cfg.ModeProduction} {
		rec := &launchRecorder{}
		launcher := NewLauncher(testLogger(), &cfg.Config{Mode: mode},
			rec.migrate(), rec.serve("dev"), rec.serve("prod"))

		require.NoError(t, launcher.Run(context.Background()))
		require.Len(t, rec.calls, 2)
		require.Equal(t, "migrate", rec.calls[0], "mode %s", mode)
	}
}

func TestLauncherAbortsOnMigrationFailure(t *testing.T) {
	migrationErr := errors.New("relation already exists")

	for _, mode := range []cfg.Mode{cfg.ModeDevelopment, cfg.ModeProduction} {
		rec := &launchRecorder{}
		launcher := NewLauncher(testLogger(), &cfg.Config{Mode: mode},
			rec.failingMigrate(migrationErr), rec.serve("dev"), rec.serve("prod"))

		err := launcher.Run(context.Background())
		require.ErrorIs(t, err, migrationErr)
		require.Contains(t, err.Error(), "migration failed")

		// Neither server was launched.
		require.Equal(t, []string{"migrate"}, rec.calls, "mode %s", mode)
	}
}

func TestLauncherPropagatesServeError(t *testing.T) {
	bindErr := errors.New("listen tcp :8000: address already in use")

	rec := &launchRecorder{}
	launcher := NewLauncher(testLogger(), &cfg.Config{Mode: cfg.ModeProduction},
		rec.migrate(),
		rec.serve("dev"),
		func(context.Context) error { return bindErr })

	require.ErrorIs(t, launcher.Run(context.Background()), bindErr)
}
