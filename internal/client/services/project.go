package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// ErrDeleted is returned when editing an entity that has a tombstone.
var ErrDeleted = errors.New("entity was deleted")

// Notifier is told about every local mutation.
type Notifier interface {
	NotifyLocalMutation(reason string)
}

type PackageWriter interface {
	WritePackage(ctx context.Context, path string, b models.Bundle) error
}

type ProjectOption func(*ProjectService)

func WithClock(now func() time.Time) ProjectOption {
	return func(s *ProjectService) { s.now = now }
}

// ProjectService applies user edits to the cache. Package files are
// rewritten by the sync engine; only a new project gets its package here.
type ProjectService struct {
	store      *cache.Store
	meta       metadata.Repository
	packages   PackageWriter
	notify     Notifier
	packageDir string
	now        func() time.Time
	log        logging.Logger
}

func NewProjectService(store *cache.Store, meta metadata.Repository, packages PackageWriter, notify Notifier,
	packageDir string, log logging.Logger, opts ...ProjectOption) *ProjectService {
	s := &ProjectService{
		store:      store,
		meta:       meta,
		packages:   packages,
		notify:     notify,
		packageDir: packageDir,
		now:        time.Now,
		log:        log.With("module", "projects"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.store.Repository().ListProjects(ctx)
}

// LoadProject returns every cached row of a project.
func (s *ProjectService) LoadProject(ctx context.Context, id string) (models.Bundle, error) {
	repo := s.store.Repository()
	if _, err := repo.GetProject(ctx, id); err != nil {
		return models.Bundle{}, fmt.Errorf("project %s: %w", id, err)
	}
	return repo.LoadProject(ctx, id)
}

// CreateProject creates a project bound to path, or to a file named after
// the project in the package directory when path is empty.
func (s *ProjectService) CreateProject(ctx context.Context, title, path string) (models.Project, error) {
	now := s.stamp()
	p := models.Project{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if path == "" {
		path = filepath.Join(s.packageDir, p.ID+common.PackageExtension)
	}
	p.PackagePath = path

	if err := s.packages.WritePackage(ctx, path, models.Bundle{Projects: []models.Project{p}}); err != nil {
		return models.Project{}, err
	}
	if err := s.store.Repository().UpsertProject(ctx, p); err != nil {
		return models.Project{}, fmt.Errorf("save project: %w", err)
	}
	s.log.Info(ctx, "project created", "project", p.ID, "path", path)
	s.notify.NotifyLocalMutation("project created")
	return p, nil
}

func (s *ProjectService) RenameProject(ctx context.Context, id, title string) (models.Project, error) {
	var out models.Project
	err := s.mutate(ctx, id, models.EntityProject, id, func(ctx context.Context, repo cache.Repository) error {
		p, err := repo.GetProject(ctx, id)
		if err != nil {
			return err
		}
		p.Title = title
		p.UpdatedAt = s.stamp()
		out = *p
		return repo.UpsertProject(ctx, *p)
	})
	return out, err
}

// SaveChapter inserts c when its id is empty and updates it otherwise.
func (s *ProjectService) SaveChapter(ctx context.Context, c models.Chapter) (models.Chapter, error) {
	now := s.stamp()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.WordCount = len(strings.Fields(c.Content))
	err := s.mutate(ctx, c.ProjectID, models.EntityChapter, c.ID, func(ctx context.Context, repo cache.Repository) error {
		return repo.UpsertChapter(ctx, c)
	})
	return c, err
}

func (s *ProjectService) SaveCharacter(ctx context.Context, c models.Character) (models.Character, error) {
	now := s.stamp()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	err := s.mutate(ctx, c.ProjectID, models.EntityCharacter, c.ID, func(ctx context.Context, repo cache.Repository) error {
		return repo.UpsertCharacter(ctx, c)
	})
	return c, err
}

func (s *ProjectService) SaveTerm(ctx context.Context, t models.Term) (models.Term, error) {
	now := s.stamp()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	err := s.mutate(ctx, t.ProjectID, models.EntityTerm, t.ID, func(ctx context.Context, repo cache.Repository) error {
		return repo.UpsertTerm(ctx, t)
	})
	return t, err
}

func (s *ProjectService) SaveMemo(ctx context.Context, m models.Memo) (models.Memo, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = s.stamp()
	err := s.mutate(ctx, m.ProjectID, models.EntityMemo, m.ID, func(ctx context.Context, repo cache.Repository) error {
		return repo.UpsertMemo(ctx, m)
	})
	return m, err
}

// TakeSnapshot freezes the current content of a chapter.
func (s *ProjectService) TakeSnapshot(ctx context.Context, chapterID, description string) (models.Snapshot, error) {
	ch, err := s.store.Repository().GetChapter(ctx, chapterID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("chapter %s: %w", chapterID, err)
	}
	snap := models.Snapshot{
		ID:          uuid.NewString(),
		ProjectID:   ch.ProjectID,
		ChapterID:   ch.ID,
		Content:     ch.Content,
		Description: description,
		CreatedAt:   s.stamp(),
	}
	err = s.mutate(ctx, ch.ProjectID, models.EntitySnapshot, snap.ID, func(ctx context.Context, repo cache.Repository) error {
		return repo.InsertSnapshot(ctx, snap)
	})
	return snap, err
}

// DeleteChapter moves a chapter to the trash. The row stays and syncs
// like any other edit.
func (s *ProjectService) DeleteChapter(ctx context.Context, id string) error {
	ch, err := s.store.Repository().GetChapter(ctx, id)
	if err != nil {
		return fmt.Errorf("chapter %s: %w", id, err)
	}
	return s.mutate(ctx, ch.ProjectID, models.EntityChapter, id, func(ctx context.Context, repo cache.Repository) error {
		now := s.stamp()
		ch.DeletedAt = &now
		ch.UpdatedAt = now
		return repo.UpsertChapter(ctx, *ch)
	})
}

// DeleteEntity removes an entity for good and records its tombstone.
func (s *ProjectService) DeleteEntity(ctx context.Context, projectID string, t models.EntityType, id string) error {
	switch t {
	case models.EntityProject:
		return s.DeleteProject(ctx, id)
	case models.EntityWorldDocument:
		return fmt.Errorf("%w: world documents are edited in the package", common.ErrorValidation)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		if _, err := repo.GetProject(ctx, projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}
		if err := repo.UpsertTombstone(ctx, models.NewTombstone(projectID, t, id, s.stamp())); err != nil {
			return err
		}
		return repo.DeleteEntity(ctx, t, id)
	})
	if err != nil {
		return err
	}
	s.notify.NotifyLocalMutation("delete " + string(t))
	return nil
}

// DeleteProject drops every cached row of a project. Its tombstone waits in
// the metadata store until a push delivers it.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	repo := s.store.Repository()
	if _, err := repo.GetProject(ctx, id); err != nil {
		return fmt.Errorf("project %s: %w", id, err)
	}
	tomb := models.NewTombstone(id, models.EntityProject, id, s.stamp())
	if err := localbundle.QueueTombstones(ctx, s.meta, id, tomb); err != nil {
		return fmt.Errorf("queue tombstone: %w", err)
	}
	if err := repo.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.log.Info(ctx, "project deleted", "project", id)
	s.notify.NotifyLocalMutation("project deleted")
	return nil
}

// mutate runs fn in a transaction after checking the project exists and
// the entity is not tombstoned.
func (s *ProjectService) mutate(ctx context.Context, projectID string, t models.EntityType, id string,
	fn func(ctx context.Context, repo cache.Repository) error) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		if _, err := repo.GetProject(ctx, projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}
		b, err := repo.LoadProject(ctx, projectID)
		if err != nil {
			return err
		}
		tid := models.TombstoneID(t, id)
		for _, ts := range b.Tombstones {
			if ts.ID == tid {
				return fmt.Errorf("%s %s: %w", t, id, ErrDeleted)
			}
		}
		return fn(ctx, repo)
	})
	if err != nil {
		return err
	}
	s.notify.NotifyLocalMutation("edit " + string(t))
	return nil
}

func (s *ProjectService) stamp() time.Time {
	return s.now().UTC()
}
