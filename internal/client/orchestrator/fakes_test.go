package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

type fakeSessions struct {
	mu          sync.Mutex
	state       session.State
	tokenErr    error
	diagnoseErr error
	disconnects int
	connectOpen bool
}

func (f *fakeSessions) Init(context.Context) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeSessions) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSessions) BeginConnect() (session.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectOpen {
		return session.StateConnecting, false
	}
	f.connectOpen = true
	f.state = session.StateConnecting
	return f.state, true
}

func (f *fakeSessions) CompleteConnect(context.Context, session.Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectOpen = false
	f.state = session.StateConnected
	return nil
}

func (f *fakeSessions) FailConnect(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectOpen = false
	f.state = session.StateError
}

func (f *fakeSessions) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = session.StateDisconnected
	return nil
}

func (f *fakeSessions) Identity(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.StateConnected {
		return nil, nil
	}
	return &session.Session{Provider: "plotkeeper", UserID: "u1"}, nil
}

func (f *fakeSessions) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "access", nil
}

func (f *fakeSessions) Diagnose(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diagnoseErr
}

// fakeRemote keeps one bundle per project, the way the server does.
type fakeRemote struct {
	mu        sync.Mutex
	projects  map[string]models.Bundle
	fetches   int
	upserts   []models.Bundle
	fetchErr  error
	upsertErr error

	// gate, when set, blocks every fetch until it is closed; entered is
	// signalled on each fetch.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{projects: map[string]models.Bundle{}}
}

func (f *fakeRemote) FetchBundle(ctx context.Context, token, userID string) (models.Bundle, error) {
	f.mu.Lock()
	f.fetches++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Bundle{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return models.Bundle{}, f.fetchErr
	}
	var out models.Bundle
	for _, b := range f.projects {
		out.Append(b)
	}
	out.Sort()
	return out, nil
}

// UpsertBundle applies the server's rules: a row is stored only when no
// newer copy exists, tombstones are terminal and a project tombstone
// clears the whole project.
func (f *fakeRemote) UpsertBundle(_ context.Context, _ string, b models.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, b)
	for _, pid := range b.ProjectIDs() {
		in := b.ForProject(pid)
		cur := f.projects[pid]

		dead := map[string]bool{}
		projectDead := false
		cur.Tombstones = append(cur.Tombstones, in.Tombstones...)
		byID := map[string]models.Tombstone{}
		for _, t := range cur.Tombstones {
			if _, ok := byID[t.ID]; !ok {
				byID[t.ID] = t
			}
			dead[t.ID] = true
			if t.EntityType == models.EntityProject {
				projectDead = true
			}
		}
		cur.Tombstones = cur.Tombstones[:0]
		for _, t := range byID {
			cur.Tombstones = append(cur.Tombstones, t)
		}
		if projectDead {
			f.projects[pid] = models.Bundle{Tombstones: cur.Tombstones}
			continue
		}

		cur.Projects = guarded(cur.Projects, in.Projects, dead)
		cur.Chapters = guarded(cur.Chapters, in.Chapters, dead)
		cur.Characters = guarded(cur.Characters, in.Characters, dead)
		cur.Terms = guarded(cur.Terms, in.Terms, dead)
		cur.WorldDocuments = guarded(cur.WorldDocuments, in.WorldDocuments, dead)
		cur.Memos = guarded(cur.Memos, in.Memos, dead)
		cur.Snapshots = guarded(cur.Snapshots, in.Snapshots, dead)
		cur.Sort()
		f.projects[pid] = cur
	}
	return nil
}

func guarded[T models.Entity](cur, in []T, dead map[string]bool) []T {
	byID := map[string]T{}
	for _, c := range cur {
		if !dead[models.TombstoneID(c.EntityType(), c.EntityID())] {
			byID[c.EntityID()] = c
		}
	}
	for _, n := range in {
		if dead[models.TombstoneID(n.EntityType(), n.EntityID())] {
			continue
		}
		if old, ok := byID[n.EntityID()]; ok && old.Timestamp().After(n.Timestamp()) {
			continue
		}
		byID[n.EntityID()] = n
	}
	out := make([]T, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	return out
}

func (f *fakeRemote) stored(pid string) models.Bundle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[pid]
}

func (f *fakeRemote) edit(pid string, fn func(b *models.Bundle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.projects[pid]
	fn(&b)
	f.projects[pid] = b
}

func (f *fakeRemote) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, len(f.upserts)
}

var errDiskFull = errors.New("no space left on device")

// failingWriter wraps a package writer and can be switched to fail.
type failingWriter struct {
	PackageWriter
	mu   sync.Mutex
	fail bool
}

func (w *failingWriter) WritePackage(ctx context.Context, path string, b models.Bundle) error {
	w.mu.Lock()
	fail := w.fail
	w.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return w.PackageWriter.WritePackage(ctx, path, b)
}

var errCommit = errors.New("database is locked")

// failingCache runs the real transaction but can be switched to roll it
// back after fn succeeded, as a failed commit would.
type failingCache struct {
	*cache.Store
	mu   sync.Mutex
	fail bool
}

func (c *failingCache) WithTx(ctx context.Context, fn func(ctx context.Context, repo cache.Repository) error) error {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if !fail {
		return c.Store.WithTx(ctx, fn)
	}
	return c.Store.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		if err := fn(ctx, repo); err != nil {
			return err
		}
		return errCommit
	})
}

type fakeTask struct {
	s        *fakeScheduler
	at       time.Duration
	fn       func()
	canceled bool
}

func (t *fakeTask) Cancel() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.canceled = true
}

// fakeScheduler fires tasks only when advanced.
type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*fakeTask
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{s: s, at: s.now + d, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTask
	rest := s.tasks[:0]
	for _, t := range s.tasks {
		switch {
		case t.canceled:
		case t.at <= s.now:
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	s.tasks = rest
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.canceled {
			n++
		}
	}
	return n
}
