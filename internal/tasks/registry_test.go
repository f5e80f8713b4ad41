package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPurger struct {
	removed   int64
	err       error
	olderThan time.Duration
}

func (p *recordingPurger) RemoveOldRuns(_ context.Context, olderThan time.Duration) (int64, error) {
	p.olderThan = olderThan
	return p.removed, p.err
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, &recordingPurger{}))

	t.Run("resolves registered handlers", func(t *testing.T) {
		handler, err := registry.Resolve("add")
		require.NoError(t, err)
		require.NotNil(t, handler)
	})

	t.Run("unknown task name errors", func(t *testing.T) {
		_, err := registry.Resolve("does-not-exist")
		require.ErrorIs(t, err, ErrUnknownTask)
	})

	t.Run("double registration errors", func(t *testing.T) {
		err := registry.Register("add", Add)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already registered")
	})

	t.Run("names are sorted", func(t *testing.T) {
		require.Equal(t, []string{"add", "purge_runs", "sleep"}, registry.Names())
	})
}

func TestAdd(t *testing.T) {
	result, err := Add(context.Background(), `{"x": 2.5, "y": 4}`)
	require.NoError(t, err)
	require.Equal(t, "6.5", result)

	_, err = Add(context.Background(), `not json`)
	require.Error(t, err)
}

func TestPurgeRuns(t *testing.T) {
	t.Run("removes runs older than the cutoff", func(t *testing.T) {
		purger := &recordingPurger{removed: 7}
		handler := PurgeRuns(purger)

		result, err := handler(context.Background(), `{"older_than_minutes": 90}`)
		require.NoError(t, err)
		require.Equal(t, "7", result)
		require.Equal(t, 90*time.Minute, purger.olderThan)
	})

	t.Run("rejects non-positive cutoffs", func(t *testing.T) {
		handler := PurgeRuns(&recordingPurger{})

		_, err := handler(context.Background(), `{"older_than_minutes": 0}`)
		require.Error(t, err)
		require.Contains(t, err.Error(), "positive older_than_minutes")
	})

	t.Run("propagates purge failures", func(t *testing.T) {
		purger := &recordingPurger{err: errors.New("connection reset")}
		handler := PurgeRuns(purger)

		_, err := handler(context.Background(), `{"older_than_minutes": 10}`)
		require.ErrorContains(t, err, "connection reset")
	})

	t.Run("invalid payload errors", func(t *testing.T) {
		handler := PurgeRuns(&recordingPurger{})

		_, err := handler(context.Background(), `not json`)
		require.Error(t, err)
	})
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Sleep(ctx, `{"seconds": 10}`)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
