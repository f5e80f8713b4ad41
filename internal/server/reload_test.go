package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, broadcast func()) (cancel func()) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	watcher := NewReloadWatcher(testLogger(), dir, broadcast)

	done := make(chan struct{})
	go func() {
		watcher.Start(ctx)
		close(done)
	}()

	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reload watcher did not stop")
		}
	}
}

func TestReloadWatcherBroadcastsOnChange(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<html>"), 0o644))

	var broadcasts atomic.Int64
	stop := startWatcher(t, dir, func() { broadcasts.Add(1) })
	defer stop()

	// Keep touching the file until a broadcast lands, so the test does
	// not race the watcher's setup.
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(page, []byte("<html>edited"), 0o644))
		return broadcasts.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestReloadWatcherBroadcastsForNewFiles(t *testing.T) {
	dir := t.TempDir()

	var broadcasts atomic.Int64
	stop := startWatcher(t, dir, func() { broadcasts.Add(1) })
	defer stop()

	created := 0
	require.Eventually(t, func() bool {
		name := filepath.Join(dir, "asset-"+time.Now().Format("150405.000000")+".css")
		require.NoError(t, os.WriteFile(name, []byte("body{}"), 0o644))
		created++
		return broadcasts.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
	require.Positive(t, created)
}

func TestReloadWatcherDisablesOnMissingDirectory(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "no-such-dir")
	watcher := NewReloadWatcher(testLogger(), absent, func() {
		t.Error("broadcast from a disabled watcher")
	})

	done := make(chan struct{})
	go func() {
		watcher.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher should return immediately when the directory is missing")
	}
}
