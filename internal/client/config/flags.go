package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/plotkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the backend server
//	-d string   data directory (cache, session key, log)
//	-p string   directory new packages are created in
//	-u string   account name used by connect
//	-l string   log level
//	-s bool     automatic sync, pass as -s=false to turn off
//	-w bool     watch package files, pass as -w=false to turn off
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-p", "-u", "-l", "-s", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.PackageDir, "p", cfg.PackageDir, "package directory")
	fs.StringVar(&cfg.Username, "u", cfg.Username, "account name")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.AutoSync, "s", cfg.AutoSync, "sync automatically after edits")
	fs.BoolVar(&cfg.WatchPackages, "w", cfg.WatchPackages, "watch package files for outside changes")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
