// Package client is the remote repository client of the sync engine.
//
// GRPCClient talks to the remote store over the hand-declared service in
// package rpc. It attaches the access token to authenticated calls,
// refreshes an expired token once through its TokenSource, and maps gRPC
// status codes to sentinel errors (ErrUnavailable, ErrUnauthorized) that
// callers match with errors.Is. A remote bundle that fails validation is
// reported with the entity set that broke it.
//
// The package also bootstraps the local SQLite database (InitDatabase,
// RunMigrations) with the embedded goose migrations.
package client
