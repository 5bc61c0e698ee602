package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errUsage = errors.New("usage")

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Register(ctx context.Context, args []string) error
	Connect(ctx context.Context, args []string) error
	Disconnect(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	AutoSync(ctx context.Context, args []string) error
	Conflicts(ctx context.Context, args []string) error
	Resolve(ctx context.Context, args []string) error

	ListProjects(ctx context.Context, args []string) error
	NewProject(ctx context.Context, args []string) error
	Use(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Write(ctx context.Context, args []string) error
	Trash(ctx context.Context, args []string) error
	Snapshot(ctx context.Context, args []string) error
	AddCharacter(ctx context.Context, args []string) error
	AddTerm(ctx context.Context, args []string) error
	AddMemo(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	DeleteProject(ctx context.Context, args []string) error
}

const helpText = `Sync:     register, connect, disconnect, status, sync, autosync on|off,
          conflicts, resolve <type> <id> local|remote
Projects: projects, new <title>, use <id>, rename <title>, show,
          write [chapter-id], trash <chapter-id>, snapshot <chapter-id> [note],
          character, term, memo, delete <type> <id>, rmproject <id>
Other:    help, exit`

// runREPL reads a line, dispatches on the first token and reports command
// errors. The loop exits on EOF or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader, out io.Writer) {
	commands := map[string]func(context.Context, []string) error{
		"register":   a.Register,
		"connect":    a.Connect,
		"disconnect": a.Disconnect,
		"status":     a.Status,
		"sync":       a.Sync,
		"autosync":   a.AutoSync,
		"conflicts":  a.Conflicts,
		"resolve":    a.Resolve,
		"projects":   a.ListProjects,
		"new":        a.NewProject,
		"use":        a.Use,
		"rename":     a.Rename,
		"show":       a.Show,
		"write":      a.Write,
		"trash":      a.Trash,
		"snapshot":   a.Snapshot,
		"character":  a.AddCharacter,
		"term":       a.AddTerm,
		"memo":       a.AddMemo,
		"delete":     a.Delete,
		"rmproject":  a.DeleteProject,
	}

	for {
		fmt.Fprintf(out, "pk %s> ", statusFn())
		line, err := in.ReadString('\n')
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(out, helpText)
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		default:
			fn, ok := commands[cmd]
			if !ok {
				fmt.Fprintln(out, "Unknown command:", cmd)
				break
			}
			if cerr := fn(ctx, args); cerr != nil {
				fmt.Fprintln(out, "error:", cerr)
			}
		}
		if err != nil {
			return
		}
	}
}
