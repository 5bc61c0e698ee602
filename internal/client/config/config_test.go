package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 1500*time.Millisecond, c.DebounceInterval)
	assert.Equal(t, 15*time.Second, c.NetworkTimeout)
	assert.Equal(t, 60*time.Second, c.ExpiryMargin)
	assert.True(t, c.AutoSync)
	assert.True(t, c.WatchPackages)
	assert.NotEmpty(t, c.DataDir)
}

func TestResolve_FillsPathsFromDataDir(t *testing.T) {
	c := Config{DataDir: "/data", PackageDir: "/books"}
	c.Resolve()

	assert.Equal(t, filepath.Join("/data", "cache.db"), c.DatabaseFile)
	assert.Equal(t, "/books", c.PackageDir)
	assert.Equal(t, filepath.Join("/data", "session.key"), c.KeyFile)
	assert.Equal(t, filepath.Join("/data", "client.log"), c.LogFile)
	assert.Equal(t, filepath.Join("/data", ".lock"), c.LockFile())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, filepath.Join(cfg.DataDir, "packages"), cfg.PackageDir)
}
