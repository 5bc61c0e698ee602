package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/plotkeeper/internal/client/client"
	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/client/pkgfile"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type countingNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *countingNotifier) NotifyLocalMutation(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

type projectEnv struct {
	dir    string
	store  *cache.Store
	meta   *metadata.SQLiteRepository
	writer *pkgfile.Writer
	notify *countingNotifier
	svc    *ProjectService
}

func newProjectEnv(t *testing.T) *projectEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := client.InitDatabase(context.Background(), filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &projectEnv{
		dir:    dir,
		store:  cache.NewStore(db),
		meta:   metadata.NewSQLiteRepository(db),
		writer: pkgfile.NewWriter(logging.NewNop()),
		notify: &countingNotifier{},
	}
	e.svc = NewProjectService(e.store, e.meta, e.writer, e.notify, dir, logging.NewNop(),
		WithClock(func() time.Time { return t0 }))
	return e
}

func TestCreateProject_WritesPackageAndBinds(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()

	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(e.dir, p.ID+common.PackageExtension), p.PackagePath)

	pkg, err := e.writer.ReadPackage(ctx, p.PackagePath)
	require.NoError(t, err)
	assert.Equal(t, "Novel", pkg.Projects[0].Title)

	got, err := e.store.Repository().GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.PackagePath, got.PackagePath)
	assert.Len(t, e.notify.reasons, 1)
}

func TestSaveChapter_AssignsIDAndCountsWords(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)

	c, err := e.svc.SaveChapter(ctx, models.Chapter{ProjectID: p.ID, Title: "One", Content: "it was a dark night"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	assert.Equal(t, 5, c.WordCount)
	assert.Equal(t, t0, c.CreatedAt)

	c.Content = "rewritten"
	_, err = e.svc.SaveChapter(ctx, c)
	require.NoError(t, err)

	b, err := e.svc.LoadProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, b.Chapters, 1)
	assert.Equal(t, "rewritten", b.Chapters[0].Content)
	assert.Equal(t, 1, b.Chapters[0].WordCount)
}

func TestSave_UnknownProject(t *testing.T) {
	e := newProjectEnv(t)
	_, err := e.svc.SaveMemo(context.Background(), models.Memo{ProjectID: "nope", Title: "x"})
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, e.notify.reasons)
}

func TestDeleteEntity_TombstonesAndBlocksEdits(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)
	ch, err := e.svc.SaveCharacter(ctx, models.Character{ProjectID: p.ID, Name: "Ann"})
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteEntity(ctx, p.ID, models.EntityCharacter, ch.ID))

	b, err := e.svc.LoadProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, b.Characters)
	require.Len(t, b.Tombstones, 1)
	assert.Equal(t, models.TombstoneID(models.EntityCharacter, ch.ID), b.Tombstones[0].ID)

	_, err = e.svc.SaveCharacter(ctx, ch)
	require.ErrorIs(t, err, ErrDeleted)
}

func TestDeleteEntity_WorldDocumentRejected(t *testing.T) {
	e := newProjectEnv(t)
	err := e.svc.DeleteEntity(context.Background(), "p", models.EntityWorldDocument, "w")
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestDeleteChapter_IsSoft(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)
	c, err := e.svc.SaveChapter(ctx, models.Chapter{ProjectID: p.ID, Title: "One"})
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteChapter(ctx, c.ID))

	got, err := e.store.Repository().GetChapter(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, t0, *got.DeletedAt)
}

func TestTakeSnapshot_CopiesContent(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)
	c, err := e.svc.SaveChapter(ctx, models.Chapter{ProjectID: p.ID, Title: "One", Content: "draft"})
	require.NoError(t, err)

	snap, err := e.svc.TakeSnapshot(ctx, c.ID, "before edits")
	require.NoError(t, err)
	assert.Equal(t, "draft", snap.Content)
	assert.Equal(t, p.ID, snap.ProjectID)

	_, err = e.svc.TakeSnapshot(ctx, "missing", "")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteProject_QueuesTombstone(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)
	_, err = e.svc.SaveChapter(ctx, models.Chapter{ProjectID: p.ID, Title: "One"})
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteProject(ctx, p.ID))

	projects, err := e.svc.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	queued, err := localbundle.QueuedTombstones(ctx, e.meta)
	require.NoError(t, err)
	require.Len(t, queued[p.ID], 1)
	assert.Equal(t, models.EntityProject, queued[p.ID][0].EntityType)

	require.ErrorIs(t, e.svc.DeleteProject(ctx, p.ID), common.ErrorNotFound)
}

func TestRenameProject(t *testing.T) {
	e := newProjectEnv(t)
	ctx := context.Background()
	p, err := e.svc.CreateProject(ctx, "Novel", "")
	require.NoError(t, err)

	got, err := e.svc.RenameProject(ctx, p.ID, "Saga")
	require.NoError(t, err)
	assert.Equal(t, "Saga", got.Title)
	assert.Equal(t, p.PackagePath, got.PackagePath)
}
