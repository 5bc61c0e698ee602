package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the plotkeeper client.
//
// Paths left empty are resolved against DataDir by Resolve.
type Config struct {
	ServerEndpointAddr string
	DataDir            string
	DatabaseFile       string
	PackageDir         string
	KeyFile            string
	LogFile            string
	LogLevel           string
	Username           string

	DebounceInterval time.Duration
	NetworkTimeout   time.Duration
	ExpiryMargin     time.Duration

	AutoSync      bool
	WatchPackages bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DataDir = defaultDataDir()
	c.LogLevel = "info"
	c.DebounceInterval = 1500 * time.Millisecond
	c.NetworkTimeout = 15 * time.Second
	c.ExpiryMargin = 60 * time.Second
	c.AutoSync = true
	c.WatchPackages = true
}

// Resolve fills empty paths from DataDir.
func (c *Config) Resolve() {
	if c.DatabaseFile == "" {
		c.DatabaseFile = filepath.Join(c.DataDir, "cache.db")
	}
	if c.PackageDir == "" {
		c.PackageDir = filepath.Join(c.DataDir, "packages")
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "session.key")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "client.log")
	}
}

// LockFile is the path of the single-instance lock.
func (c *Config) LockFile() string {
	return filepath.Join(c.DataDir, ".lock")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.Resolve()
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "plotkeeper")
	}
	return ".plotkeeper"
}
