// Package flagx lets several flag sets share one command line. The client
// and server each parse their own flags plus the -c/-config file path, and
// neither may fail on flags that belong to the other.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// configFlags are the spellings the flag package accepts for the config path.
var configFlags = []string{"-c", "-config", "--c", "--config"}

// FilterArgs keeps only the flags named in allowed, with their values.
// A value is either joined with '=' or the next argument when that does
// not start with '-'. The result is never nil.
func FilterArgs(args []string, allowed []string) []string {
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, _, found := strings.Cut(arg, "="); found && strings.HasPrefix(arg, "-") {
			if keep[name] {
				out = append(out, arg)
			}
			continue
		}
		if !keep[arg] {
			continue
		}
		out = append(out, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

// ConfigPath returns the JSON config file named on the command line, or ""
// when there is none. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, configFlags))

	return path
}
