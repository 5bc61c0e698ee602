package orchestrator

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Mode is the coarse state of the sync engine.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeConnecting Mode = "connecting"
	ModeSyncing    Mode = "syncing"
	ModeError      Mode = "error"
)

// SyncStatus is what observers see. It is a value: every published status
// is an independent copy.
type SyncStatus struct {
	Connected    bool
	Mode         Mode
	InFlight     bool
	Queued       bool
	AutoSync     bool
	Conflicts    []models.ConflictRecord
	LastSyncedAt *time.Time
	LastError    string
}

func (s SyncStatus) clone() SyncStatus {
	if s.Conflicts != nil {
		s.Conflicts = append([]models.ConflictRecord(nil), s.Conflicts...)
	}
	if s.LastSyncedAt != nil {
		t := *s.LastSyncedAt
		s.LastSyncedAt = &t
	}
	return s
}

// FailureKind classifies why a run did not sync.
type FailureKind string

const (
	KindNone         FailureKind = ""
	KindAuth         FailureKind = "auth"
	KindTransient    FailureKind = "transient"
	KindPersistence  FailureKind = "persistence"
	KindConflict     FailureKind = "conflict"
	KindDisconnected FailureKind = "disconnected"
)

// SyncRunResult is the outcome of one run. A run that stopped on conflicts
// is not a failure; it reports KindConflict and the conflict set.
type SyncRunResult struct {
	Success   bool
	Message   string
	Kind      FailureKind
	Conflicts []models.ConflictRecord
	// Projects lists the projects the run wrote anywhere.
	Projects []string
}

var (
	ErrLocalBuild      = errors.New("build local bundle")
	ErrRemoteFetch     = errors.New("fetch remote bundle")
	ErrCacheCommit     = errors.New("commit cache")
	ErrPackageWrite    = errors.New("write package")
	ErrRemotePush      = errors.New("push remote bundle")
	ErrUnknownConflict = errors.New("no such conflict")
	// ErrLocalMoved means the cache changed while the run was merging; the
	// run is abandoned and repeated.
	ErrLocalMoved = errors.New("local changes arrived during sync")
	ErrClosed     = errors.New("orchestrator closed")
)
