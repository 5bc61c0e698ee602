package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// ---- fakes ----

type fakeEngine struct {
	status     orchestrator.SyncStatus
	connectErr error
	authorized session.Grant
	autoSync   *bool
	runs       []string
	resolved   []string
	result     orchestrator.SyncRunResult
}

func (f *fakeEngine) Status() orchestrator.SyncStatus { return f.status }
func (f *fakeEngine) Subscribe(func(orchestrator.SyncStatus)) func() {
	return func() {}
}
func (f *fakeEngine) Connect(ctx context.Context, authorize orchestrator.Authorize) error {
	g, err := authorize(ctx)
	if err != nil {
		return err
	}
	f.authorized = g
	return f.connectErr
}
func (f *fakeEngine) Disconnect(context.Context) error { return nil }
func (f *fakeEngine) SetAutoSync(_ context.Context, on bool) error {
	f.autoSync = &on
	return nil
}
func (f *fakeEngine) RunNow(_ context.Context, reason string) orchestrator.SyncRunResult {
	f.runs = append(f.runs, reason)
	return f.result
}
func (f *fakeEngine) ResolveConflict(_ context.Context, t models.EntityType, id string, r models.Resolution) (orchestrator.SyncRunResult, error) {
	f.resolved = append(f.resolved, string(t)+"/"+id+"/"+string(r))
	return f.result, nil
}

type fakeAuth struct {
	regUser   string
	loginUser string
	loginPass string
}

func (f *fakeAuth) Register(_ context.Context, username string, _ []byte) error {
	f.regUser = username
	return nil
}

func (f *fakeAuth) Authorizer(username string, password []byte) orchestrator.Authorize {
	f.loginUser, f.loginPass = username, string(password)
	return func(context.Context) (session.Grant, error) {
		return session.Grant{UserID: "u-" + username}, nil
	}
}

type fakeProjects struct {
	projects []models.Project
	bundle   models.Bundle
	chapters []models.Chapter
	deleted  []string
}

func (f *fakeProjects) ListProjects(context.Context) ([]models.Project, error) {
	return f.projects, nil
}
func (f *fakeProjects) LoadProject(context.Context, string) (models.Bundle, error) {
	return f.bundle, nil
}
func (f *fakeProjects) CreateProject(_ context.Context, title, _ string) (models.Project, error) {
	p := models.Project{ID: "p-new", Title: title, PackagePath: "/pk/p-new.pkp"}
	f.projects = append(f.projects, p)
	return p, nil
}
func (f *fakeProjects) RenameProject(_ context.Context, id, title string) (models.Project, error) {
	return models.Project{ID: id, Title: title}, nil
}
func (f *fakeProjects) SaveChapter(_ context.Context, c models.Chapter) (models.Chapter, error) {
	if c.ID == "" {
		c.ID = "c-new"
	}
	c.WordCount = len(strings.Fields(c.Content))
	f.chapters = append(f.chapters, c)
	return c, nil
}
func (f *fakeProjects) SaveCharacter(_ context.Context, c models.Character) (models.Character, error) {
	return c, nil
}
func (f *fakeProjects) SaveTerm(_ context.Context, t models.Term) (models.Term, error) { return t, nil }
func (f *fakeProjects) SaveMemo(_ context.Context, m models.Memo) (models.Memo, error) { return m, nil }
func (f *fakeProjects) TakeSnapshot(_ context.Context, chapterID, _ string) (models.Snapshot, error) {
	return models.Snapshot{ID: "s-" + chapterID}, nil
}
func (f *fakeProjects) DeleteChapter(_ context.Context, id string) error {
	f.deleted = append(f.deleted, "chapter/"+id)
	return nil
}
func (f *fakeProjects) DeleteEntity(_ context.Context, _ string, t models.EntityType, id string) error {
	f.deleted = append(f.deleted, string(t)+"/"+id)
	return nil
}
func (f *fakeProjects) DeleteProject(_ context.Context, id string) error {
	f.deleted = append(f.deleted, "project/"+id)
	return nil
}

func newTestApp(input string) (*App, *fakeEngine, *fakeAuth, *fakeProjects, *bytes.Buffer) {
	e, au, p := &fakeEngine{}, &fakeAuth{}, &fakeProjects{}
	out := &bytes.Buffer{}
	return NewApp(e, au, p, "", strings.NewReader(input), out), e, au, p, out
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := getPassword
	getPassword = func(io.Writer) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { getPassword = orig })
}

// ---- tests ----

func TestFormatStatus(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "(offline)", formatStatus(orchestrator.SyncStatus{Mode: orchestrator.ModeIdle, AutoSync: true}))

	s := orchestrator.SyncStatus{
		Connected:    true,
		Mode:         orchestrator.ModeSyncing,
		Conflicts:    []models.ConflictRecord{{}, {}},
		LastSyncedAt: &at,
	}
	got := formatStatus(s)
	assert.True(t, strings.HasPrefix(got, "(online, syncing, manual, 2 conflicts, synced "), got)
}

func TestStatusChange(t *testing.T) {
	idle := orchestrator.SyncStatus{Connected: true}
	assert.Empty(t, statusChange(idle, idle))
	assert.Equal(t, "sync: boom", statusChange(idle, orchestrator.SyncStatus{Connected: true, LastError: "boom"}))
	assert.Contains(t, statusChange(idle, orchestrator.SyncStatus{Connected: true, Conflicts: []models.ConflictRecord{{}}}), "1 conflicts")
	assert.Equal(t, "sync: disconnected", statusChange(idle, orchestrator.SyncStatus{}))
}

func TestConnect_UsesConfiguredAccount(t *testing.T) {
	stubPassword(t, "pw")
	a, e, au, _, out := newTestApp("")
	a.username = "ann"

	require.NoError(t, a.Connect(context.Background(), nil))
	assert.Equal(t, "ann", au.loginUser)
	assert.Equal(t, "pw", au.loginPass)
	assert.Equal(t, "u-ann", e.authorized.UserID)
	assert.Contains(t, out.String(), "Connected as ann")
}

func TestConnect_PromptsForAccountAndReportsFailure(t *testing.T) {
	stubPassword(t, "pw")
	a, e, au, _, _ := newTestApp("bob\n")
	e.connectErr = errors.New("denied")

	require.EqualError(t, a.Connect(context.Background(), nil), "denied")
	assert.Equal(t, "bob", au.loginUser)
	assert.Empty(t, a.username)
}

func TestRegister(t *testing.T) {
	stubPassword(t, "pw")
	a, _, au, _, _ := newTestApp("carol\n")
	require.NoError(t, a.Register(context.Background(), nil))
	assert.Equal(t, "carol", au.regUser)
	assert.Equal(t, "carol", a.username)
}

func TestResolve_ParsesArguments(t *testing.T) {
	a, e, _, _, _ := newTestApp("")
	ctx := context.Background()

	require.ErrorIs(t, a.Resolve(ctx, []string{"chapter"}), errUsage)
	require.Error(t, a.Resolve(ctx, []string{"planet", "x", "local"}))
	require.Error(t, a.Resolve(ctx, []string{"chapter", "c1", "mine"}))

	e.result = orchestrator.SyncRunResult{Success: true}
	require.NoError(t, a.Resolve(ctx, []string{"chapter", "c1", "remote"}))
	assert.Equal(t, []string{"chapter/c1/remote"}, e.resolved)
}

func TestSyncAndAutoSync(t *testing.T) {
	a, e, _, _, out := newTestApp("")
	ctx := context.Background()

	e.result = orchestrator.SyncRunResult{Kind: orchestrator.KindTransient, Message: "could not reach the sync server: down"}
	require.NoError(t, a.Sync(ctx, nil))
	assert.Equal(t, []string{"manual"}, e.runs)
	assert.Contains(t, out.String(), "Sync failed: could not reach")

	require.ErrorIs(t, a.AutoSync(ctx, []string{"maybe"}), errUsage)
	require.NoError(t, a.AutoSync(ctx, []string{"off"}))
	require.NotNil(t, e.autoSync)
	assert.False(t, *e.autoSync)
}

func TestWrite_NewChapterInCurrentProject(t *testing.T) {
	a, _, _, p, out := newTestApp("Opening\nit was a dark night\n\n")
	ctx := context.Background()

	require.ErrorIs(t, a.Write(ctx, nil), errNoProject)

	require.NoError(t, a.NewProject(ctx, []string{"My", "Novel"}))
	assert.Equal(t, "p-new", a.project)
	p.bundle = models.Bundle{Chapters: []models.Chapter{{ID: "c-1", ProjectID: "p-new"}}}

	require.NoError(t, a.Write(ctx, nil))
	require.Len(t, p.chapters, 1)
	c := p.chapters[0]
	assert.Equal(t, "p-new", c.ProjectID)
	assert.Equal(t, "Opening", c.Title)
	assert.Equal(t, 2, c.Order)
	assert.Contains(t, out.String(), "(5 words)")
}

func TestWrite_ExistingChapterByPrefix(t *testing.T) {
	a, _, _, p, _ := newTestApp("new text\n\n")
	a.project = "p1"
	p.bundle = models.Bundle{Chapters: []models.Chapter{{ID: "abc123", ProjectID: "p1", Title: "One", Order: 1}}}

	require.NoError(t, a.Write(context.Background(), []string{"abc"}))
	require.Len(t, p.chapters, 1)
	assert.Equal(t, "abc123", p.chapters[0].ID)
	assert.Equal(t, "One", p.chapters[0].Title)
	assert.Equal(t, "new text", p.chapters[0].Content)
}

func TestDelete_ResolvesPrefixWithinType(t *testing.T) {
	a, _, _, p, _ := newTestApp("")
	a.project = "p1"
	p.bundle = models.Bundle{
		Characters: []models.Character{{ID: "ch-1", ProjectID: "p1"}},
		Terms:      []models.Term{{ID: "ch-2", ProjectID: "p1"}},
	}

	require.NoError(t, a.Delete(context.Background(), []string{"character", "ch"}))
	assert.Equal(t, []string{"character/ch-1"}, p.deleted)
}

func TestDeleteProject_NeedsConfirmation(t *testing.T) {
	ctx := context.Background()

	a, _, _, p, _ := newTestApp("no\n")
	p.projects = []models.Project{{ID: "p1"}}
	require.NoError(t, a.DeleteProject(ctx, []string{"p1"}))
	assert.Empty(t, p.deleted)

	a, _, _, p, _ = newTestApp("yes\n")
	p.projects = []models.Project{{ID: "p1"}}
	a.project = "p1"
	require.NoError(t, a.DeleteProject(ctx, []string{"p"}))
	assert.Equal(t, []string{"project/p1"}, p.deleted)
	assert.Empty(t, a.project)
}

func TestMatchID(t *testing.T) {
	ids := []string{"abc", "abd", "xyz"}

	got, err := matchID("x", ids)
	require.NoError(t, err)
	assert.Equal(t, "xyz", got)

	got, err = matchID("abc", []string{"abc", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = matchID("ab", ids)
	require.ErrorContains(t, err, "ambiguous")

	_, err = matchID("q", ids)
	require.ErrorContains(t, err, "not found")
}

func TestRun_ExitsOnEOF(t *testing.T) {
	a, _, _, _, out := newTestApp("status\n")
	a.Run(context.Background())
	assert.Contains(t, out.String(), "Welcome to plotkeeper")
	assert.Contains(t, out.String(), "(offline, manual)")
}
