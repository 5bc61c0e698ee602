package models

import (
	"encoding/json"
	"time"
)

// Project is the root aggregate.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// PackagePath binds the project to its package file on this machine.
	// It never leaves the local cache.
	PackagePath string `json:"-"`
	Extra       Extras `json:"-"`
}

func (p Project) EntityType() EntityType  { return EntityProject }
func (p Project) EntityID() string        { return p.ID }
func (p Project) EntityProjectID() string { return p.ID }
func (p Project) Timestamp() time.Time    { return p.UpdatedAt }

func (p Project) WithUpdatedAt(ts time.Time) Entity {
	p.UpdatedAt = ts
	return p
}

func (p Project) Validate() error {
	if p.ID == "" {
		return missing("id")
	}
	return nil
}

func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return encodeWithExtras(plain(p), p.Extra)
}

func (p *Project) UnmarshalJSON(b []byte) error {
	type plain Project
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*p = Project(v)
	p.Extra = extra
	return nil
}

// Chapter is soft-deleted through DeletedAt.
type Chapter struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Synopsis  string     `json:"synopsis,omitempty"`
	Order     int        `json:"order"`
	WordCount int        `json:"wordCount"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Extra     Extras     `json:"-"`
}

func (c Chapter) EntityType() EntityType  { return EntityChapter }
func (c Chapter) EntityID() string        { return c.ID }
func (c Chapter) EntityProjectID() string { return c.ProjectID }
func (c Chapter) Timestamp() time.Time    { return c.UpdatedAt }

func (c Chapter) WithUpdatedAt(ts time.Time) Entity {
	c.UpdatedAt = ts
	return c
}

func (c Chapter) Validate() error {
	if c.ID == "" {
		return missing("id")
	}
	if c.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (c Chapter) MarshalJSON() ([]byte, error) {
	type plain Chapter
	return encodeWithExtras(plain(c), c.Extra)
}

func (c *Chapter) UnmarshalJSON(b []byte) error {
	type plain Chapter
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*c = Chapter(v)
	c.Extra = extra
	return nil
}

// Character carries an opaque attributes blob.
type Character struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	FirstAppearance string          `json:"firstAppearance,omitempty"`
	Attributes      json.RawMessage `json:"attributes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Extra           Extras          `json:"-"`
}

func (c Character) EntityType() EntityType  { return EntityCharacter }
func (c Character) EntityID() string        { return c.ID }
func (c Character) EntityProjectID() string { return c.ProjectID }
func (c Character) Timestamp() time.Time    { return c.UpdatedAt }

func (c Character) WithUpdatedAt(ts time.Time) Entity {
	c.UpdatedAt = ts
	return c
}

func (c Character) Validate() error {
	if c.ID == "" {
		return missing("id")
	}
	if c.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (c Character) MarshalJSON() ([]byte, error) {
	type plain Character
	return encodeWithExtras(plain(c), c.Extra)
}

func (c *Character) UnmarshalJSON(b []byte) error {
	type plain Character
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*c = Character(v)
	c.Extra = extra
	return nil
}

// Term is a glossary entry of the project.
type Term struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Term            string    `json:"term"`
	Definition      string    `json:"definition,omitempty"`
	Category        string    `json:"category,omitempty"`
	Order           int       `json:"order"`
	FirstAppearance string    `json:"firstAppearance,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Extra           Extras    `json:"-"`
}

func (t Term) EntityType() EntityType  { return EntityTerm }
func (t Term) EntityID() string        { return t.ID }
func (t Term) EntityProjectID() string { return t.ProjectID }
func (t Term) Timestamp() time.Time    { return t.UpdatedAt }

func (t Term) WithUpdatedAt(ts time.Time) Entity {
	t.UpdatedAt = ts
	return t
}

func (t Term) Validate() error {
	if t.ID == "" {
		return missing("id")
	}
	if t.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (t Term) MarshalJSON() ([]byte, error) {
	type plain Term
	return encodeWithExtras(plain(t), t.Extra)
}

func (t *Term) UnmarshalJSON(b []byte) error {
	type plain Term
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*t = Term(v)
	t.Extra = extra
	return nil
}

// WorldDocument is stored only in the package, one per project and DocType.
type WorldDocument struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	DocType   DocType         `json:"docType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Extra     Extras          `json:"-"`
}

// WorldDocumentID returns the canonical id of a project's document.
func WorldDocumentID(projectID string, docType DocType) string {
	return projectID + ":" + string(docType)
}

func (w WorldDocument) EntityType() EntityType  { return EntityWorldDocument }
func (w WorldDocument) EntityID() string        { return w.ID }
func (w WorldDocument) EntityProjectID() string { return w.ProjectID }
func (w WorldDocument) Timestamp() time.Time    { return w.UpdatedAt }

func (w WorldDocument) WithUpdatedAt(ts time.Time) Entity {
	w.UpdatedAt = ts
	return w
}

func (w WorldDocument) Validate() error {
	if w.ProjectID == "" {
		return missing("projectId")
	}
	if !w.DocType.Valid() {
		return missing("docType")
	}
	if w.ID == "" {
		return missing("id")
	}
	return nil
}

func (w WorldDocument) MarshalJSON() ([]byte, error) {
	type plain WorldDocument
	return encodeWithExtras(plain(w), w.Extra)
}

// UnmarshalJSON also defaults a missing id to the canonical one.
func (w *WorldDocument) UnmarshalJSON(b []byte) error {
	type plain WorldDocument
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*w = WorldDocument(v)
	w.Extra = extra
	if w.ID == "" && w.ProjectID != "" && w.DocType != "" {
		w.ID = WorldDocumentID(w.ProjectID, w.DocType)
	}
	return nil
}

// Memo is a free-form note attached to a project.
type Memo struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	Extra     Extras    `json:"-"`
}

func (m Memo) EntityType() EntityType  { return EntityMemo }
func (m Memo) EntityID() string        { return m.ID }
func (m Memo) EntityProjectID() string { return m.ProjectID }
func (m Memo) Timestamp() time.Time    { return m.UpdatedAt }

func (m Memo) WithUpdatedAt(ts time.Time) Entity {
	m.UpdatedAt = ts
	return m
}

func (m Memo) Validate() error {
	if m.ID == "" {
		return missing("id")
	}
	if m.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (m Memo) MarshalJSON() ([]byte, error) {
	type plain Memo
	return encodeWithExtras(plain(m), m.Extra)
}

func (m *Memo) UnmarshalJSON(b []byte) error {
	type plain Memo
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*m = Memo(v)
	m.Extra = extra
	return nil
}

// Snapshot is immutable once created.
type Snapshot struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	ChapterID   string    `json:"chapterId,omitempty"`
	Content     string    `json:"content"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Extra       Extras    `json:"-"`
}

func (s Snapshot) EntityType() EntityType  { return EntitySnapshot }
func (s Snapshot) EntityID() string        { return s.ID }
func (s Snapshot) EntityProjectID() string { return s.ProjectID }
func (s Snapshot) Timestamp() time.Time    { return s.CreatedAt }

func (s Snapshot) Validate() error {
	if s.ID == "" {
		return missing("id")
	}
	if s.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return encodeWithExtras(plain(s), s.Extra)
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	type plain Snapshot
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*s = Snapshot(v)
	s.Extra = extra
	return nil
}

// Tombstone is a terminal deletion marker for one entity.
type Tombstone struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"projectId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DeletedAt  time.Time  `json:"deletedAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Extra      Extras     `json:"-"`
}

// TombstoneID returns the canonical id of the tombstone for an entity.
func TombstoneID(t EntityType, entityID string) string {
	return string(t) + ":" + entityID
}

// NewTombstone builds a tombstone stamped at now.
func NewTombstone(projectID string, t EntityType, entityID string, now time.Time) Tombstone {
	return Tombstone{
		ID:         TombstoneID(t, entityID),
		ProjectID:  projectID,
		EntityType: t,
		EntityID:   entityID,
		DeletedAt:  now,
		UpdatedAt:  now,
	}
}

func (t Tombstone) Validate() error {
	if t.EntityID == "" {
		return missing("entityId")
	}
	if t.EntityType == "" {
		return missing("entityType")
	}
	if t.ProjectID == "" {
		return missing("projectId")
	}
	return nil
}

func (t Tombstone) MarshalJSON() ([]byte, error) {
	type plain Tombstone
	return encodeWithExtras(plain(t), t.Extra)
}

// UnmarshalJSON defaults a missing id to the canonical one.
func (t *Tombstone) UnmarshalJSON(b []byte) error {
	type plain Tombstone
	var v plain
	extra, err := decodePartial(b, &v)
	if err != nil {
		return err
	}
	*t = Tombstone(v)
	t.Extra = extra
	if t.ID == "" && t.EntityID != "" {
		t.ID = TombstoneID(t.EntityType, t.EntityID)
	}
	return nil
}
