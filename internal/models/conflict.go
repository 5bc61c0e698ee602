package models

import (
	"fmt"
	"time"
)

// ConflictRecord describes one entity both replicas changed since they last
// agreed. It lives only between detection and resolution.
type ConflictRecord struct {
	Type              EntityType `json:"type"`
	ID                string     `json:"id"`
	ProjectID         string     `json:"projectId"`
	LocalUpdatedAt    time.Time  `json:"localUpdatedAt"`
	RemoteUpdatedAt   time.Time  `json:"remoteUpdatedAt"`
	BaselineUpdatedAt *time.Time `json:"baselineUpdatedAt,omitempty"`
}

func (c ConflictRecord) String() string {
	return fmt.Sprintf("%s %s (local %s, remote %s)", c.Type, c.ID,
		c.LocalUpdatedAt.Format(time.RFC3339), c.RemoteUpdatedAt.Format(time.RFC3339))
}

// Resolution picks the side that wins a conflict.
type Resolution string

const (
	ResolveLocal  Resolution = "local"
	ResolveRemote Resolution = "remote"
)

// ParseResolution validates s.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case ResolveLocal, ResolveRemote:
		return Resolution(s), nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}
