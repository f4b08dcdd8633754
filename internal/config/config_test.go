package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"minikv/internal/logs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_Full(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
server:
  listen: "127.0.0.1:7000"
  admin_listen: ""
storage:
  data_dir: /var/lib/minikv
  autosave_file: last.db
  reap_interval: 250ms
  save_retry:
    max_retries: 5
    base_backoff: 50ms
    max_backoff: 1s
log:
  level: debug
  format: json
  buffer: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Empty(t, cfg.Server.AdminListen)
	assert.Equal(t, "/var/lib/minikv", cfg.Storage.DataDir)
	assert.Equal(t, "last.db", cfg.Storage.AutosaveFile)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.ReapInterval)
	assert.Equal(t, RetryConfig{MaxRetries: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}, cfg.Storage.SaveRetry)
	assert.Equal(t, logs.DEBUG, cfg.Log.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Log.Buffer)

	p := cfg.Storage.SaveRetry.Policy()
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 25*time.Millisecond, p.JitterFn(50*time.Millisecond))
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "log:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Log.Level = "warn"
	assert.Equal(t, want, cfg)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":          "server: [",
		"empty listen":      "server:\n  listen: \"\"\n",
		"zero reap":         "storage:\n  reap_interval: 0s\n",
		"path in autosave":  "storage:\n  autosave_file: ../x.json\n",
		"negative retries":  "storage:\n  save_retry:\n    max_retries: -1\n",
		"unknown level":     "log:\n  level: loud\n",
		"unknown format":    "log:\n  format: xml\n",
		"negative buffer":   "log:\n  buffer: -3\n",
		"empty data dir":    "storage:\n  data_dir: \"\"\n",
		"negative backoff":  "storage:\n  save_retry:\n    base_backoff: -1s\n",
		"duration not text": "storage:\n  reap_interval: soon\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, body)

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ErrorsKeepTheirCause(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeConfig(t, path, "log:\n  level: loud\n")

		_, err := Load(path)
		require.Error(t, err)
		assert.Equal(t, `config: log.level: unknown log level "loud"`, err.Error())

		_, direct := logs.ParseLevel("loud")
		assert.Equal(t, direct.Error(), errors.Cause(err).Error())
	})

	t.Run("unreadable path", func(t *testing.T) {
		dir := t.TempDir()

		_, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config: read")
		assert.NotNil(t, errors.Cause(err))
	})
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var levels []string
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) {
			mu.Lock()
			levels = append(levels, c.Log.Level)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before the first write.
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "log:\n  level: error\n")
	writeConfig(t, path, "log:\n  level: loud\n")
	writeConfig(t, path, "log:\n  level: debug\n")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.NotContains(t, levels, "error", "other files in the directory are ignored")
	assert.NotContains(t, levels, "loud", "invalid reloads are dropped")
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
