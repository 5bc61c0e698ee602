package models

import (
	"errors"
	"fmt"
	"time"
)

// EntityType names one kind of entity in the fixed schema.
type EntityType string

const (
	EntityProject       EntityType = "project"
	EntityChapter       EntityType = "chapter"
	EntityCharacter     EntityType = "character"
	EntityTerm          EntityType = "term"
	EntityWorldDocument EntityType = "worldDocument"
	EntityMemo          EntityType = "memo"
	EntitySnapshot      EntityType = "snapshot"
	EntityTombstone     EntityType = "tombstone"
)

// EntityTypes lists every mergeable entity kind (tombstones are not
// themselves tombstoned).
var EntityTypes = []EntityType{
	EntityProject,
	EntityChapter,
	EntityCharacter,
	EntityTerm,
	EntityWorldDocument,
	EntityMemo,
	EntitySnapshot,
}

// ParseEntityType validates s against the known entity kinds.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	if s == string(EntityTombstone) {
		return EntityTombstone, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// DocType is the kind of a world document.
type DocType string

const (
	DocSynopsis DocType = "synopsis"
	DocPlot     DocType = "plot"
	DocDrawing  DocType = "drawing"
	DocMindmap  DocType = "mindmap"
	DocScrap    DocType = "scrap"
	DocGraph    DocType = "graph"
)

// DocTypes lists every world document kind, in package order.
var DocTypes = []DocType{DocSynopsis, DocPlot, DocDrawing, DocMindmap, DocScrap, DocGraph}

// Valid reports whether d is one of DocTypes.
func (d DocType) Valid() bool {
	for _, t := range DocTypes {
		if t == d {
			return true
		}
	}
	return false
}

// ErrMissingField is wrapped by Validate when a required field is empty.
var ErrMissingField = errors.New("missing required field")

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// Entity is implemented by every mergeable row type.
type Entity interface {
	EntityType() EntityType
	EntityID() string
	EntityProjectID() string
	// Timestamp is the value compared against the baseline.
	Timestamp() time.Time
	Validate() error
}

// Restampable is an Entity whose modification time can be moved forward,
// e.g. when a kept copy must supersede a newer one elsewhere.
type Restampable interface {
	Entity
	WithUpdatedAt(ts time.Time) Entity
}
