package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotReload_ApplyDetectsChanges(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	var (
		mu      sync.Mutex
		changes []ConfigChange
		reloads int
	)
	m.OnChange(func(c ConfigChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})
	m.OnReload(func(oldConfig, newConfig *Config) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})

	next := DefaultConfig()
	next.Server.HTTPPort = 7070
	next.Log.Level = "debug"
	require.NoError(t, m.Apply(next, "test"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.Equal(t, 1, reloads)
	paths := []string{changes[0].Path, changes[1].Path}
	assert.Contains(t, paths, "Server.HTTPPort")
	assert.Contains(t, paths, "Log.Level")
	assert.Same(t, next, m.GetConfig())
}

func TestHotReload_ApplyNoChanges(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	reloads := 0
	m.OnReload(func(oldConfig, newConfig *Config) { reloads++ })

	require.NoError(t, m.Apply(DefaultConfig(), "test"))
	assert.Zero(t, reloads)
}

func TestHotReload_RejectsInvalidConfig(t *testing.T) {
	initial := DefaultConfig()
	m := NewHotReloadManager(initial)

	bad := DefaultConfig()
	bad.Server.HTTPPort = 0
	assert.Error(t, m.Apply(bad, "test"))
	assert.Same(t, initial, m.GetConfig())
}

func TestHotReload_Rollback(t *testing.T) {
	initial := DefaultConfig()
	m := NewHotReloadManager(initial)

	assert.Error(t, m.Rollback())

	next := DefaultConfig()
	next.Server.HTTPPort = 7070
	require.NoError(t, m.Apply(next, "test"))

	require.NoError(t, m.Rollback())
	assert.Equal(t, 8080, m.GetConfig().Server.HTTPPort)
}

func TestHotReload_History(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithMaxHistorySize(2))

	for port := 7001; port <= 7003; port++ {
		next := DefaultConfig()
		next.Server.HTTPPort = port
		require.NoError(t, m.Apply(next, "test"))
	}

	history := m.GetConfigHistory()
	require.Len(t, history, 2)
	assert.Greater(t, history[1].Version, history[0].Version)
	assert.Equal(t, 7003, history[1].Config.Server.HTTPPort)
}

func TestHotReload_ReloadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8081\n"), 0o644))

	m := NewHotReloadManager(DefaultConfig(), WithConfigPath(configPath))
	require.NoError(t, m.ReloadFromFile())
	assert.Equal(t, 8081, m.GetConfig().Server.HTTPPort)

	// A file that fails validation leaves the current config in place.
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: -1\n"), 0o644))
	assert.Error(t, m.ReloadFromFile())
	assert.Equal(t, 8081, m.GetConfig().Server.HTTPPort)
}

func TestHotReload_NoPath(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	assert.Error(t, m.ReloadFromFile())

	require.NoError(t, m.Start(t.Context()))
	assert.NoError(t, m.Stop())
}
