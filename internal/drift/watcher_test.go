package drift

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *atomic.Int32 {
	t.Helper()

	var calls atomic.Int32
	w := NewWatcher(root, 100*time.Millisecond, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// give the watcher time to register its watches
	time.Sleep(100 * time.Millisecond)
	return &calls
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	calls := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "automations.yaml"), []byte{byte('a' + i)}, 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_NewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	calls := startWatcher(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages"), 0o750))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "packages", "lights.yaml"), []byte("light:\n"), 0o600))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresGitDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o750))
	calls := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index.lock"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "objects", "pack"), nil, 0o600))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
