// Package cli provides the interactive plotkeeper command-line client.
//
// The REPL edits projects in the local cache through the project service
// and drives the sync engine: connect, manual sync, auto-sync toggle and
// conflict resolution. Status changes that need attention (errors, new
// conflicts, a lost session) are printed as they happen.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
