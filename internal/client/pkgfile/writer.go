package pkgfile

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/filex"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

var (
	ErrNotSingleProject = errors.New("package bundle must hold exactly one project")
	ErrNoManifest       = errors.New("package has no valid manifest")
)

// Writer owns every package file this process writes. It remembers when it
// last wrote each path so a file watcher can tell its own writes apart from
// external ones.
type Writer struct {
	log logging.Logger
	now func() time.Time

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

func NewWriter(log logging.Logger) *Writer {
	return &Writer{
		log:       log.With("module", "pkgfile"),
		now:       time.Now,
		lastWrite: map[string]time.Time{},
	}
}

// WritePackage replaces the container at path with the content of b, which
// must describe exactly one project. Either the old or the complete new
// container is visible at path afterwards.
func (w *Writer) WritePackage(ctx context.Context, path string, b models.Bundle) error {
	if len(b.Projects) != 1 {
		return ErrNotSingleProject
	}
	project := b.Projects[0]
	if err := b.Validate(); err != nil {
		return fmt.Errorf("package %s: %w", project.ID, err)
	}

	chapters := append([]models.Chapter(nil), b.Chapters...)
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].Order != chapters[j].Order {
			return chapters[i].Order < chapters[j].Order
		}
		return chapters[i].ID < chapters[j].ID
	})

	writtenAt := w.now().UTC()
	manifest := newManifest(project, chapters, writtenAt)

	err := filex.WriteFileAtomic(path, 0o640, func(out io.Writer) error {
		zw := zip.NewWriter(out)
		put := func(name string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", name, err)
			}
			f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: writtenAt})
			if err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			if _, err := f.Write(data); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			return nil
		}

		for _, c := range chapters {
			if err := put(ChapterEntry(c.ID), c); err != nil {
				return err
			}
		}
		for _, d := range b.WorldDocuments {
			if err := put(WorldEntry(d.DocType), d); err != nil {
				return err
			}
		}
		lists := []struct {
			name string
			v    any
		}{
			{EntryCharacters, nonNil(b.Characters)},
			{EntryTerms, nonNil(b.Terms)},
			{EntryMemos, nonNil(b.Memos)},
			{EntrySnapshots, nonNil(b.Snapshots)},
			{EntryTombstones, nonNil(b.Tombstones)},
		}
		for _, l := range lists {
			if err := put(l.name, l.v); err != nil {
				return err
			}
		}
		// The manifest goes last so a reader that sees it can rely on
		// every file it indexes.
		if err := put(EntryManifest, manifest); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		w.log.Error(ctx, "package write failed", "project", project.ID, "path", path, "error", err)
		return fmt.Errorf("write package %s: %w", path, err)
	}

	w.mu.Lock()
	w.lastWrite[cleanPath(path)] = w.now()
	w.mu.Unlock()

	w.log.Debug(ctx, "package written", "project", project.ID, "path", path, "chapters", len(chapters))
	return nil
}

// LastWrite reports when this writer last replaced path.
func (w *Writer) LastWrite(path string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.lastWrite[cleanPath(path)]
	return t, ok
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
