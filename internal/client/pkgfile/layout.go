package pkgfile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

const (
	// Format identifies a plotkeeper package manifest.
	Format = "plotkeeper.package"
	// SchemaVersion is the layout version this build writes.
	SchemaVersion = 1

	EntryManifest   = "manifest.json"
	EntryCharacters = "characters.json"
	EntryTerms      = "terms.json"
	EntryMemos      = "memos.json"
	EntrySnapshots  = "snapshots.json"
	EntryTombstones = "tombstones.json"
)

// ChapterEntry is the container name of a chapter's content file.
func ChapterEntry(chapterID string) string {
	return "chapters/" + chapterID + ".json"
}

// WorldEntry is the container name of a world document.
func WorldEntry(docType models.DocType) string {
	return "world/" + string(docType) + ".json"
}

// ChapterRef is one line of the manifest's chapter index.
type ChapterRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
	File  string `json:"file"`
}

// Manifest describes the package and carries the project row itself.
type Manifest struct {
	Format        string       `json:"format"`
	SchemaVersion int          `json:"schemaVersion"`
	ProjectID     string       `json:"projectId"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	WrittenAt     time.Time    `json:"writtenAt"`
	Chapters      []ChapterRef `json:"chapters"`

	// Extra holds unknown manifest fields, which are the project's own
	// passthrough fields.
	Extra models.Extras `json:"-"`
}

func newManifest(p models.Project, chapters []models.Chapter, writtenAt time.Time) Manifest {
	m := Manifest{
		Format:        Format,
		SchemaVersion: SchemaVersion,
		ProjectID:     p.ID,
		Title:         p.Title,
		Description:   p.Description,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		WrittenAt:     writtenAt,
		Chapters:      make([]ChapterRef, 0, len(chapters)),
		Extra:         p.Extra,
	}
	for _, c := range chapters {
		m.Chapters = append(m.Chapters, ChapterRef{ID: c.ID, Title: c.Title, Order: c.Order, File: ChapterEntry(c.ID)})
	}
	return m
}

// Project rebuilds the project row the manifest was written from.
func (m Manifest) Project() models.Project {
	return models.Project{
		ID:          m.ProjectID,
		Title:       m.Title,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Extra:       m.Extra,
	}
}

func (m Manifest) Validate() error {
	if m.Format != Format {
		return fmt.Errorf("unexpected format %q", m.Format)
	}
	if m.ProjectID == "" {
		return fmt.Errorf("%w: projectId", models.ErrMissingField)
	}
	if m.SchemaVersion > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than %d", m.SchemaVersion, SchemaVersion)
	}
	return nil
}

// manifestWire keeps declared fields out of Extra on decode.
type manifestWire struct {
	Format        string       `json:"format"`
	SchemaVersion int          `json:"schemaVersion"`
	ProjectID     string       `json:"projectId"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	WrittenAt     time.Time    `json:"writtenAt"`
	Chapters      []ChapterRef `json:"chapters"`
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(manifestWire{
		Format: m.Format, SchemaVersion: m.SchemaVersion, ProjectID: m.ProjectID,
		Title: m.Title, Description: m.Description, CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt, WrittenAt: m.WrittenAt, Chapters: m.Chapters,
	})
	if err != nil || len(m.Extra) == 0 {
		return b, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func (m *Manifest) UnmarshalJSON(b []byte) error {
	var w manifestWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for _, k := range []string{"format", "schemaVersion", "projectId", "title", "description",
		"createdAt", "updatedAt", "writtenAt", "chapters"} {
		delete(fields, k)
	}

	*m = Manifest{
		Format: w.Format, SchemaVersion: w.SchemaVersion, ProjectID: w.ProjectID,
		Title: w.Title, Description: w.Description, CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt, WrittenAt: w.WrittenAt, Chapters: w.Chapters,
	}
	if len(fields) > 0 {
		m.Extra = models.Extras(fields)
	}
	if m.SchemaVersion == 0 {
		m.SchemaVersion = 1
	}
	return nil
}
