// Package metadata is the client's key/value store. It persists the
// encrypted session, per-project baselines, queued tombstones and sync
// settings next to the relational cache.
package metadata

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	ListPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

// Well-known keys.
const (
	KeySession       = "sync.session"
	KeyCipherSalt    = "sync.cipher_salt"
	KeyAutoSync      = "sync.auto"
	KeyLastError     = "sync.last_error"
	KeyLastSyncedAt  = "sync.last_synced_at"
	KeyWasConnected  = "sync.was_connected"
	PrefixBaseline   = "baseline:"
	PrefixLastSynced = "project_synced_at:"
	PrefixTombstones = "queued_tombstones:"
)

// BaselineKey is the key of a project's baseline.
func BaselineKey(projectID string) string { return PrefixBaseline + projectID }

// LastSyncedKey is the key of a project's last successful sync time.
func LastSyncedKey(projectID string) string { return PrefixLastSynced + projectID }

// QueuedTombstonesKey holds tombstones of a project deleted while offline.
func QueuedTombstonesKey(projectID string) string { return PrefixTombstones + projectID }
