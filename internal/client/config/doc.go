// Package config loads runtime configuration for the plotkeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Paths that are still empty afterwards are placed inside the data
// directory (see (*Config).Resolve).
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "data_dir": "/home/ann/.config/plotkeeper",
//	  "username": "ann",
//	  "debounce_interval": "1500ms",
//	  "network_timeout": "15s",
//	  "auto_sync": true
//	}
package config
