package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/dbx"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const projectColumns = `id, title, description, created_at, updated_at, package_path, extra`

func scanProject(s scanner) (models.Project, error) {
	var (
		p                models.Project
		created, updated string
		extra            sql.NullString
		err              error
	)
	if err = s.Scan(&p.ID, &p.Title, &p.Description, &created, &updated, &p.PackagePath, &extra); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, err
	}
	p.Extra, err = decodeExtra(extra)
	return p, err
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return &p, nil
}

// UpsertProject writes the row; an empty PackagePath keeps the stored one.
func (r *SQLiteRepository) UpsertProject(ctx context.Context, p models.Project) error {
	extra, err := encodeExtra(p.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, created_at, updated_at, package_path, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			package_path = CASE WHEN excluded.package_path = '' THEN projects.package_path ELSE excluded.package_path END,
			extra = excluded.extra
	`, p.ID, p.Title, p.Description, formatTime(p.CreatedAt), formatTime(p.UpdatedAt), p.PackagePath, extra)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetPackagePath(ctx context.Context, projectID, path string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE projects SET package_path = ? WHERE id = ?`, path, projectID)
	if err != nil {
		return fmt.Errorf("failed to bind package of %s: %w", projectID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

const chapterColumns = `id, project_id, title, content, synopsis, ord, word_count, created_at, updated_at, deleted_at, extra`

func scanChapter(s scanner) (models.Chapter, error) {
	var (
		c                models.Chapter
		created, updated string
		deleted, extra   sql.NullString
		err              error
	)
	if err = s.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Content, &c.Synopsis, &c.Order, &c.WordCount,
		&created, &updated, &deleted, &extra); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return c, err
	}
	if c.DeletedAt, err = parseNullTime(deleted); err != nil {
		return c, err
	}
	c.Extra, err = decodeExtra(extra)
	return c, err
}

func (r *SQLiteRepository) GetChapter(ctx context.Context, id string) (*models.Chapter, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter %s: %w", id, err)
	}
	return &c, nil
}

func (r *SQLiteRepository) UpsertChapter(ctx context.Context, c models.Chapter) error {
	extra, err := encodeExtra(c.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chapters (`+chapterColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, title = excluded.title, content = excluded.content,
			synopsis = excluded.synopsis, ord = excluded.ord, word_count = excluded.word_count,
			created_at = excluded.created_at, updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at, extra = excluded.extra
	`, c.ID, c.ProjectID, c.Title, c.Content, c.Synopsis, c.Order, c.WordCount,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatNullTime(c.DeletedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to upsert chapter %s: %w", c.ID, err)
	}
	return nil
}

const characterColumns = `id, project_id, name, description, first_appearance, attributes, created_at, updated_at, extra`

func scanCharacter(s scanner) (models.Character, error) {
	var (
		c                models.Character
		created, updated string
		attrs, extra     sql.NullString
		err              error
	)
	if err = s.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.FirstAppearance, &attrs,
		&created, &updated, &extra); err != nil {
		return c, err
	}
	c.Attributes = decodeRaw(attrs)
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return c, err
	}
	c.Extra, err = decodeExtra(extra)
	return c, err
}

func (r *SQLiteRepository) UpsertCharacter(ctx context.Context, c models.Character) error {
	extra, err := encodeExtra(c.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO characters (`+characterColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, name = excluded.name, description = excluded.description,
			first_appearance = excluded.first_appearance, attributes = excluded.attributes,
			created_at = excluded.created_at, updated_at = excluded.updated_at, extra = excluded.extra
	`, c.ID, c.ProjectID, c.Name, c.Description, c.FirstAppearance, encodeRaw(c.Attributes),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to upsert character %s: %w", c.ID, err)
	}
	return nil
}

const termColumns = `id, project_id, term, definition, category, ord, first_appearance, created_at, updated_at, extra`

func scanTerm(s scanner) (models.Term, error) {
	var (
		t                models.Term
		created, updated string
		extra            sql.NullString
		err              error
	)
	if err = s.Scan(&t.ID, &t.ProjectID, &t.Term, &t.Definition, &t.Category, &t.Order, &t.FirstAppearance,
		&created, &updated, &extra); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	t.Extra, err = decodeExtra(extra)
	return t, err
}

func (r *SQLiteRepository) UpsertTerm(ctx context.Context, t models.Term) error {
	extra, err := encodeExtra(t.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO terms (`+termColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, term = excluded.term, definition = excluded.definition,
			category = excluded.category, ord = excluded.ord, first_appearance = excluded.first_appearance,
			created_at = excluded.created_at, updated_at = excluded.updated_at, extra = excluded.extra
	`, t.ID, t.ProjectID, t.Term, t.Definition, t.Category, t.Order, t.FirstAppearance,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to upsert term %s: %w", t.ID, err)
	}
	return nil
}

const memoColumns = `id, project_id, title, content, tags, updated_at, extra`

func scanMemo(s scanner) (models.Memo, error) {
	var (
		m           models.Memo
		updated     string
		tags, extra sql.NullString
		err         error
	)
	if err = s.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Content, &tags, &updated, &extra); err != nil {
		return m, err
	}
	if m.Tags, err = decodeTags(tags); err != nil {
		return m, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return m, err
	}
	m.Extra, err = decodeExtra(extra)
	return m, err
}

func (r *SQLiteRepository) UpsertMemo(ctx context.Context, m models.Memo) error {
	extra, err := encodeExtra(m.Extra)
	if err != nil {
		return err
	}
	tags, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memos (`+memoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, title = excluded.title, content = excluded.content,
			tags = excluded.tags, updated_at = excluded.updated_at, extra = excluded.extra
	`, m.ID, m.ProjectID, m.Title, m.Content, tags, formatTime(m.UpdatedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to upsert memo %s: %w", m.ID, err)
	}
	return nil
}

const snapshotColumns = `id, project_id, chapter_id, content, description, created_at, extra`

func scanSnapshot(s scanner) (models.Snapshot, error) {
	var (
		sn      models.Snapshot
		created string
		extra   sql.NullString
		err     error
	)
	if err = s.Scan(&sn.ID, &sn.ProjectID, &sn.ChapterID, &sn.Content, &sn.Description, &created, &extra); err != nil {
		return sn, err
	}
	if sn.CreatedAt, err = parseTime(created); err != nil {
		return sn, err
	}
	sn.Extra, err = decodeExtra(extra)
	return sn, err
}

// InsertSnapshot stores a snapshot once; snapshots are immutable, so an
// existing id is left untouched.
func (r *SQLiteRepository) InsertSnapshot(ctx context.Context, s models.Snapshot) error {
	extra, err := encodeExtra(s.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, s.ProjectID, s.ChapterID, s.Content, s.Description, formatTime(s.CreatedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", s.ID, err)
	}
	return nil
}

const tombstoneColumns = `id, project_id, entity_type, entity_id, deleted_at, updated_at, extra`

func scanTombstone(s scanner) (models.Tombstone, error) {
	var (
		t                models.Tombstone
		typ              string
		deleted, updated string
		extra            sql.NullString
		err              error
	)
	if err = s.Scan(&t.ID, &t.ProjectID, &typ, &t.EntityID, &deleted, &updated, &extra); err != nil {
		return t, err
	}
	t.EntityType = models.EntityType(typ)
	if t.DeletedAt, err = parseTime(deleted); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	t.Extra, err = decodeExtra(extra)
	return t, err
}

func (r *SQLiteRepository) UpsertTombstone(ctx context.Context, t models.Tombstone) error {
	extra, err := encodeExtra(t.Extra)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tombstones (`+tombstoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, entity_type = excluded.entity_type,
			entity_id = excluded.entity_id, deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at, extra = excluded.extra
	`, t.ID, t.ProjectID, string(t.EntityType), t.EntityID, formatTime(t.DeletedAt), formatTime(t.UpdatedAt), extra)
	if err != nil {
		return fmt.Errorf("failed to upsert tombstone %s: %w", t.ID, err)
	}
	return nil
}

var entityTables = map[models.EntityType]string{
	models.EntityProject:   "projects",
	models.EntityChapter:   "chapters",
	models.EntityCharacter: "characters",
	models.EntityTerm:      "terms",
	models.EntityMemo:      "memos",
	models.EntitySnapshot:  "snapshots",
	models.EntityTombstone: "tombstones",
}

// childTables hold rows keyed by project_id.
var childTables = []string{"chapters", "characters", "terms", "memos", "snapshots"}

func (r *SQLiteRepository) DeleteEntity(ctx context.Context, t models.EntityType, id string) error {
	if t == models.EntityProject {
		return r.DeleteProject(ctx, id)
	}
	table, ok := entityTables[t]
	if !ok {
		// world documents are not cached
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t, id, err)
	}
	return nil
}

// DeleteProject removes the project row and its children. Tombstones stay,
// they are what propagates the deletion.
func (r *SQLiteRepository) DeleteProject(ctx context.Context, projectID string) error {
	for _, table := range childTables {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("failed to delete %s of %s: %w", table, projectID, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}
	return nil
}

func queryAll[T any](ctx context.Context, db dbx.DBTX, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) LoadProject(ctx context.Context, projectID string) (models.Bundle, error) {
	var b models.Bundle
	var err error

	if b.Projects, err = queryAll(ctx, r.db, scanProject, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID); err != nil {
		return b, fmt.Errorf("load projects: %w", err)
	}
	if b.Chapters, err = queryAll(ctx, r.db, scanChapter, `SELECT `+chapterColumns+` FROM chapters WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load chapters: %w", err)
	}
	if b.Characters, err = queryAll(ctx, r.db, scanCharacter, `SELECT `+characterColumns+` FROM characters WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load characters: %w", err)
	}
	if b.Terms, err = queryAll(ctx, r.db, scanTerm, `SELECT `+termColumns+` FROM terms WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load terms: %w", err)
	}
	if b.Memos, err = queryAll(ctx, r.db, scanMemo, `SELECT `+memoColumns+` FROM memos WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load memos: %w", err)
	}
	if b.Snapshots, err = queryAll(ctx, r.db, scanSnapshot, `SELECT `+snapshotColumns+` FROM snapshots WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load snapshots: %w", err)
	}
	if b.Tombstones, err = queryAll(ctx, r.db, scanTombstone, `SELECT `+tombstoneColumns+` FROM tombstones WHERE project_id = ? ORDER BY id`, projectID); err != nil {
		return b, fmt.Errorf("load tombstones: %w", err)
	}
	return b, nil
}

// ListTombstonedProjects returns ids of projects that only survive as
// tombstones in the cache.
func (r *SQLiteRepository) ListTombstonedProjects(ctx context.Context) ([]string, error) {
	return queryAll(ctx, r.db, func(s scanner) (string, error) {
		var id string
		err := s.Scan(&id)
		return id, err
	}, `SELECT DISTINCT project_id FROM tombstones WHERE project_id NOT IN (SELECT id FROM projects) ORDER BY project_id`)
}

func (r *SQLiteRepository) ReplaceProject(ctx context.Context, projectID string, b models.Bundle) error {
	path := ""
	if p, err := r.GetProject(ctx, projectID); err == nil {
		path = p.PackagePath
	} else if !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	cached, err := queryAll(ctx, r.db, scanTombstone, `SELECT `+tombstoneColumns+` FROM tombstones WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("load tombstones of %s: %w", projectID, err)
	}

	if err := r.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete tombstones of %s: %w", projectID, err)
	}

	part := b.ForProject(projectID)
	tombs := keepTombstones(cached, part)
	dead := make(map[string]bool, len(tombs))
	for _, t := range tombs {
		if err := r.UpsertTombstone(ctx, t); err != nil {
			return err
		}
		dead[models.TombstoneID(t.EntityType, t.EntityID)] = true
	}
	if dead[models.TombstoneID(models.EntityProject, projectID)] {
		return nil
	}

	if err := upsertLive(ctx, part.Projects, dead, func(ctx context.Context, p models.Project) error {
		if p.PackagePath == "" {
			p.PackagePath = path
		}
		return r.UpsertProject(ctx, p)
	}); err != nil {
		return err
	}
	if err := upsertLive(ctx, part.Chapters, dead, r.UpsertChapter); err != nil {
		return err
	}
	if err := upsertLive(ctx, part.Characters, dead, r.UpsertCharacter); err != nil {
		return err
	}
	if err := upsertLive(ctx, part.Terms, dead, r.UpsertTerm); err != nil {
		return err
	}
	if err := upsertLive(ctx, part.Memos, dead, r.UpsertMemo); err != nil {
		return err
	}
	return upsertLive(ctx, part.Snapshots, dead, r.InsertSnapshot)
}

// keepTombstones unions the cached tombstones with the bundle's. A deletion
// is never undone by a replace; on an id clash the later copy wins.
func keepTombstones(cached []models.Tombstone, b models.Bundle) []models.Tombstone {
	out := append([]models.Tombstone(nil), b.Tombstones...)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.ID] = i
	}
	for _, t := range cached {
		if i, ok := index[t.ID]; ok {
			if t.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = t
			}
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

func upsertLive[T models.Entity](ctx context.Context, items []T, dead map[string]bool, upsert func(context.Context, T) error) error {
	for _, it := range items {
		if dead[models.TombstoneID(it.EntityType(), it.EntityID())] {
			continue
		}
		if err := upsert(ctx, it); err != nil {
			return err
		}
	}
	return nil
}
