package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/flagx"
	"github.com/dmitrijs2005/plotkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. Booleans are pointers so an
// absent key leaves the default alone.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	DataDir            string         `json:"data_dir"`
	DatabaseFile       string         `json:"database_file"`
	PackageDir         string         `json:"package_dir"`
	KeyFile            string         `json:"key_file"`
	LogFile            string         `json:"log_file"`
	LogLevel           string         `json:"log_level"`
	Username           string         `json:"username"`
	DebounceInterval   timex.Duration `json:"debounce_interval"`
	NetworkTimeout     timex.Duration `json:"network_timeout"`
	ExpiryMargin       timex.Duration `json:"expiry_margin"`
	AutoSync           *bool          `json:"auto_sync"`
	WatchPackages      *bool          `json:"watch_packages"`
}

// parseJson overlays Config with the non-empty values of the JSON file named
// by -c or -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.DatabaseFile, jc.DatabaseFile)
	setString(&cfg.PackageDir, jc.PackageDir)
	setString(&cfg.KeyFile, jc.KeyFile)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.Username, jc.Username)
	setDuration(&cfg.DebounceInterval, jc.DebounceInterval)
	setDuration(&cfg.NetworkTimeout, jc.NetworkTimeout)
	setDuration(&cfg.ExpiryMargin, jc.ExpiryMargin)
	if jc.AutoSync != nil {
		cfg.AutoSync = *jc.AutoSync
	}
	if jc.WatchPackages != nil {
		cfg.WatchPackages = *jc.WatchPackages
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = time.Duration(v.Duration)
	}
}
