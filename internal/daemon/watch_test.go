package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/shutter/internal/config"
)

func TestWatchConfigReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.Save(path, fileConfig("a", "/tmp/a")))

	shared := config.NewShared(fileConfig("a", "/tmp/a"))
	require.NoError(t, shared.Update(context.Background(), func(c *config.Config) error {
		c.LastIndex = 10
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchConfig(ctx, path, shared) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)

	updated := fileConfig("b", "/tmp/b")
	updated.LastIndex = 2
	require.NoError(t, config.Save(path, updated))

	require.Eventually(t, func() bool {
		cfg, err := shared.Snapshot(context.Background())
		return err == nil && cfg.Uploaders[0].Name() == "b"
	}, 5*time.Second, 20*time.Millisecond)

	cfg, err := shared.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cfg.LastIndex, "reload must not move the counter backwards")
	assert.Equal(t, "/usr/bin/b", cfg.Screenshotter.Path)
}

func TestWatchConfigIgnoresInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, config.Save(path, fileConfig("a", "/tmp/a")))

	shared := config.NewShared(fileConfig("a", "/tmp/a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchConfig(ctx, path, shared) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"uploaders": [`), 0644))
	// Unrelated files in the directory are ignored as well.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))

	time.Sleep(3 * reloadDelay)
	cfg, err := shared.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Uploaders[0].Name())
}
