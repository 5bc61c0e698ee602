package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
)

type fakeImporter struct {
	mu      sync.Mutex
	paths   []string
	changed bool
}

func (f *fakeImporter) ImportPackage(_ context.Context, path string) (localbundle.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return localbundle.ImportResult{ProjectID: "p1", Updated: boolToInt(f.changed)}, nil
}

func (f *fakeImporter) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type fakeWrites struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func (f *fakeWrites) LastWrite(path string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.last[path]
	return t, ok
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeNotifier) NotifyLocalMutation(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

func startWatcher(t *testing.T, imp *fakeImporter, writes *fakeWrites, n *fakeNotifier) string {
	t.Helper()
	dir := t.TempDir()
	w, err := New(imp, writes, n, logging.NewNop(), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(dir))
	t.Cleanup(func() { require.NoError(t, w.Stop()) })
	return dir
}

func TestWatcher_ExternalChangeIsImported(t *testing.T) {
	imp := &fakeImporter{changed: true}
	n := &fakeNotifier{}
	dir := startWatcher(t, imp, &fakeWrites{last: map[string]time.Time{}}, n)

	path := filepath.Join(dir, "novel.pkp")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o600))

	require.Eventually(t, func() bool { return n.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{path}, imp.calls())
}

func TestWatcher_UnchangedImportDoesNotNotify(t *testing.T) {
	imp := &fakeImporter{}
	n := &fakeNotifier{}
	dir := startWatcher(t, imp, &fakeWrites{last: map[string]time.Time{}}, n)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "novel.pkp"), []byte("zip"), 0o600))
	require.Eventually(t, func() bool { return len(imp.calls()) > 0 }, 3*time.Second, 10*time.Millisecond)
	require.Zero(t, n.count())
}

func TestWatcher_IgnoresOwnWritesAndOtherFiles(t *testing.T) {
	imp := &fakeImporter{changed: true}
	n := &fakeNotifier{}
	dir := t.TempDir()
	own := filepath.Join(dir, "own.pkp")
	writes := &fakeWrites{last: map[string]time.Time{own: time.Now().Add(time.Minute)}}

	w, err := New(imp, writes, n, logging.NewNop(), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(dir))
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(own, []byte("zip"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".novel.pkp.tmp-1"), []byte("x"), 0o600))

	require.Never(t, func() bool { return len(imp.calls()) > 0 }, 300*time.Millisecond, 10*time.Millisecond)
}

func TestWatcher_StartTwiceAndStopIdempotent(t *testing.T) {
	w, err := New(&fakeImporter{}, &fakeWrites{}, &fakeNotifier{}, logging.NewNop())
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, w.Start(dir))
	require.Error(t, w.Start(dir))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
