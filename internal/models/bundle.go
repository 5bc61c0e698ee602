package models

import (
	"fmt"
	"sort"
)

// Bundle is an in-memory snapshot of one or more projects' entities and the
// unit of merge. Empty sets are omitted so nil and empty encode the same.
type Bundle struct {
	Projects       []Project       `json:"projects,omitempty"`
	Chapters       []Chapter       `json:"chapters,omitempty"`
	Characters     []Character     `json:"characters,omitempty"`
	Terms          []Term          `json:"terms,omitempty"`
	WorldDocuments []WorldDocument `json:"worldDocuments,omitempty"`
	Memos          []Memo          `json:"memos,omitempty"`
	Snapshots      []Snapshot      `json:"snapshots,omitempty"`
	Tombstones     []Tombstone     `json:"tombstones,omitempty"`
}

// ProjectIDs returns the sorted set of project ids referenced anywhere in b.
func (b *Bundle) ProjectIDs() []string {
	seen := map[string]struct{}{}
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, p := range b.Projects {
		add(p.ID)
	}
	for _, c := range b.Chapters {
		add(c.ProjectID)
	}
	for _, c := range b.Characters {
		add(c.ProjectID)
	}
	for _, t := range b.Terms {
		add(t.ProjectID)
	}
	for _, w := range b.WorldDocuments {
		add(w.ProjectID)
	}
	for _, m := range b.Memos {
		add(m.ProjectID)
	}
	for _, s := range b.Snapshots {
		add(s.ProjectID)
	}
	for _, t := range b.Tombstones {
		add(t.ProjectID)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Project returns the project row with the given id.
func (b *Bundle) Project(id string) (Project, bool) {
	for _, p := range b.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// ForProject returns the subset of b belonging to projectID.
func (b *Bundle) ForProject(projectID string) Bundle {
	var out Bundle
	for _, p := range b.Projects {
		if p.ID == projectID {
			out.Projects = append(out.Projects, p)
		}
	}
	out.Chapters = filter(b.Chapters, projectID)
	out.Characters = filter(b.Characters, projectID)
	out.Terms = filter(b.Terms, projectID)
	out.WorldDocuments = filter(b.WorldDocuments, projectID)
	out.Memos = filter(b.Memos, projectID)
	out.Snapshots = filter(b.Snapshots, projectID)
	for _, t := range b.Tombstones {
		if t.ProjectID == projectID {
			out.Tombstones = append(out.Tombstones, t)
		}
	}
	return out
}

func filter[T Entity](items []T, projectID string) []T {
	var out []T
	for _, it := range items {
		if it.EntityProjectID() == projectID {
			out = append(out, it)
		}
	}
	return out
}

// Append adds every entity of other to b.
func (b *Bundle) Append(other Bundle) {
	b.Projects = append(b.Projects, other.Projects...)
	b.Chapters = append(b.Chapters, other.Chapters...)
	b.Characters = append(b.Characters, other.Characters...)
	b.Terms = append(b.Terms, other.Terms...)
	b.WorldDocuments = append(b.WorldDocuments, other.WorldDocuments...)
	b.Memos = append(b.Memos, other.Memos...)
	b.Snapshots = append(b.Snapshots, other.Snapshots...)
	b.Tombstones = append(b.Tombstones, other.Tombstones...)
}

// Sort orders every entity set by (projectId, id) so equal bundles compare
// equal regardless of source ordering.
func (b *Bundle) Sort() {
	SortEntities(b.Projects)
	SortEntities(b.Chapters)
	SortEntities(b.Characters)
	SortEntities(b.Terms)
	SortEntities(b.WorldDocuments)
	SortEntities(b.Memos)
	SortEntities(b.Snapshots)
	sort.SliceStable(b.Tombstones, func(i, j int) bool {
		if b.Tombstones[i].ProjectID != b.Tombstones[j].ProjectID {
			return b.Tombstones[i].ProjectID < b.Tombstones[j].ProjectID
		}
		return b.Tombstones[i].ID < b.Tombstones[j].ID
	})
}

// SortEntities orders items by (projectId, id).
func SortEntities[T Entity](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := items[i].EntityProjectID(), items[j].EntityProjectID()
		if pi != pj {
			return pi < pj
		}
		return items[i].EntityID() < items[j].EntityID()
	})
}

// Validate checks every entity and names the entity set that failed.
func (b *Bundle) Validate() error {
	if err := validateAll("projects", b.Projects); err != nil {
		return err
	}
	if err := validateAll("chapters", b.Chapters); err != nil {
		return err
	}
	if err := validateAll("characters", b.Characters); err != nil {
		return err
	}
	if err := validateAll("terms", b.Terms); err != nil {
		return err
	}
	if err := validateAll("worldDocuments", b.WorldDocuments); err != nil {
		return err
	}
	if err := validateAll("memos", b.Memos); err != nil {
		return err
	}
	if err := validateAll("snapshots", b.Snapshots); err != nil {
		return err
	}
	for i, t := range b.Tombstones {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tombstones[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAll[T Entity](set string, items []T) error {
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", set, i, err)
		}
	}
	return nil
}

// IsEmpty reports whether b holds no entities at all.
func (b *Bundle) IsEmpty() bool {
	return len(b.Projects) == 0 && len(b.Chapters) == 0 && len(b.Characters) == 0 &&
		len(b.Terms) == 0 && len(b.WorldDocuments) == 0 && len(b.Memos) == 0 &&
		len(b.Snapshots) == 0 && len(b.Tombstones) == 0
}
