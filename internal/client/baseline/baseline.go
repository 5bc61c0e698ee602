// Package baseline tracks, per project and entity, the timestamp at which
// local and remote last agreed, and classifies every entity of a sync run
// against it.
package baseline

import (
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Baseline is one project's last known-converged state. It only advances
// after a fully successful commit.
type Baseline struct {
	ProjectID  string                                             `json:"projectId"`
	Entries    map[models.EntityType]map[string]time.Time         `json:"entries"`
	Forced     map[models.EntityType]map[string]models.Resolution `json:"forced,omitempty"`
	CapturedAt time.Time                                          `json:"capturedAt"`
}

func New(projectID string) *Baseline {
	return &Baseline{
		ProjectID: projectID,
		Entries:   map[models.EntityType]map[string]time.Time{},
	}
}

// Get returns the converged timestamp of an entity. A nil baseline knows
// nothing.
func (b *Baseline) Get(t models.EntityType, id string) (time.Time, bool) {
	if b == nil {
		return time.Time{}, false
	}
	ts, ok := b.Entries[t][id]
	return ts, ok
}

func (b *Baseline) Set(t models.EntityType, id string, ts time.Time) {
	if b.Entries == nil {
		b.Entries = map[models.EntityType]map[string]time.Time{}
	}
	if b.Entries[t] == nil {
		b.Entries[t] = map[string]time.Time{}
	}
	b.Entries[t][id] = ts.UTC()
}

// Force records that the next detection must take side r for the entity.
func (b *Baseline) Force(t models.EntityType, id string, r models.Resolution) {
	if b.Forced == nil {
		b.Forced = map[models.EntityType]map[string]models.Resolution{}
	}
	if b.Forced[t] == nil {
		b.Forced[t] = map[string]models.Resolution{}
	}
	b.Forced[t][id] = r
}

func (b *Baseline) ForcedSide(t models.EntityType, id string) (models.Resolution, bool) {
	if b == nil {
		return "", false
	}
	r, ok := b.Forced[t][id]
	return r, ok
}

// Len is the number of tracked entities.
func (b *Baseline) Len() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, m := range b.Entries {
		n += len(m)
	}
	return n
}

// Capture builds the baseline a successful commit of merged advances to.
// Forced resolutions are consumed by that commit and are not carried over.
func Capture(projectID string, merged models.Bundle, now time.Time) *Baseline {
	b := New(projectID)
	b.CapturedAt = now.UTC()

	p := merged.ForProject(projectID)
	record(b, p.Projects)
	record(b, p.Chapters)
	record(b, p.Characters)
	record(b, p.Terms)
	record(b, p.WorldDocuments)
	record(b, p.Memos)
	record(b, p.Snapshots)
	for _, t := range p.Tombstones {
		b.Set(models.EntityTombstone, t.ID, t.UpdatedAt)
	}
	return b
}

func record[T models.Entity](b *Baseline, items []T) {
	for _, it := range items {
		b.Set(it.EntityType(), it.EntityID(), it.Timestamp())
	}
}
