package drift

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

func TestWatch_EnqueuesRefreshJobOnSupportedFileWrite(t *testing.T) {
	workspace := t.TempDir()
	store, err := sqlite.Open(context.Background(), "watch-test", filepath.Join(t.TempDir(), "memory.db"), slog.Default())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = Watch(ctx, store, workspace, slog.Default())
	}()
	<-started
	time.Sleep(50 * time.Millisecond) // let the watcher finish registering the tree

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a.py"), []byte("import os\n"), 0o644))

	require.Eventually(t, func() bool {
		n, err := store.CountPendingOrRunningJobs(context.Background())
		return err == nil && n > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatch_IgnoresUnsupportedSuffix(t *testing.T) {
	workspace := t.TempDir()
	store, err := sqlite.Open(context.Background(), "watch-test-2", filepath.Join(t.TempDir(), "memory.db"), slog.Default())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = Watch(ctx, store, workspace, slog.Default()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "notes.txt"), []byte("hi\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	n, err := store.CountPendingOrRunningJobs(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
