package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatch(t *testing.T, path string, calls *atomic.Int32) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, logrus.New(), path, 50*time.Millisecond, func() {
			calls.Add(1)
		})
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
}

func TestWatch_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	var calls atomic.Int32

	startWatch(t, path, &calls)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// A burst of writes collapses into a single call.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('b' + i)}, 0o644))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 },
		2*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatch_Directory(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32

	startWatch(t, dir, &calls)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_01.json"), []byte("[]"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 },
		2*time.Second, 20*time.Millisecond)
}

func TestWatch_MissingPath(t *testing.T) {
	err := Watch(context.Background(), logrus.New(),
		filepath.Join(t.TempDir(), "nope"), 0, func() {})
	require.Error(t, err)
}
