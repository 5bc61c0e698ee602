package models

import (
	"encoding/json"
	"time"
)

// EntityRow is one stored entity of a user. Payload is the entity's JSON
// document exactly as the client sent it.
type EntityRow struct {
	UserID     string
	EntityType string
	EntityID   string
	ProjectID  string
	Payload    json.RawMessage
	UpdatedAt  time.Time
}
