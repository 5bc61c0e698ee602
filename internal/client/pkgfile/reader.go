package pkgfile

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// maxEntrySize bounds a single decompressed entry.
const maxEntrySize = 64 << 20

// ReadEntry returns the raw bytes of one container entry. A missing
// container, a missing entry or an unreadable one is reported as absent.
func (w *Writer) ReadEntry(path, name string) ([]byte, bool) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	return readEntry(&zr.Reader, name)
}

func readEntry(zr *zip.Reader, name string) ([]byte, bool) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxEntrySize+1))
	if err != nil || len(data) > maxEntrySize {
		return nil, false
	}
	return data, true
}

type validator interface{ Validate() error }

// decodeEntry decodes and validates one object entry; failures are absent.
func decodeEntry[T validator](zr *zip.Reader, name string) (T, bool) {
	var v T
	data, ok := readEntry(zr, name)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	if err := v.Validate(); err != nil {
		return v, false
	}
	return v, true
}

// decodeList decodes a list entry item by item. Items that fail validation
// are dropped; the list is absent only when the entry itself is unusable.
func decodeList[T validator](zr *zip.Reader, name string) ([]T, int, bool) {
	data, ok := readEntry(zr, name)
	if !ok {
		return nil, 0, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, false
	}

	out := make([]T, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			dropped++
			continue
		}
		if err := v.Validate(); err != nil {
			dropped++
			continue
		}
		out = append(out, v)
	}
	return out, dropped, true
}

// ReadWorldDocument returns one world document of the package at path.
// A document stored under another project id is ignored.
func (w *Writer) ReadWorldDocument(path, projectID string, docType models.DocType) (models.WorldDocument, bool) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return models.WorldDocument{}, false
	}
	defer zr.Close()

	doc, ok := decodeEntry[models.WorldDocument](&zr.Reader, WorldEntry(docType))
	if !ok || doc.ProjectID != projectID || doc.DocType != docType {
		return models.WorldDocument{}, false
	}
	return doc, true
}

// ReadPackage loads everything the package holds. Only a missing container
// or manifest is an error; any other damaged entry is skipped.
func (w *Writer) ReadPackage(ctx context.Context, path string) (models.Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Bundle{}, fmt.Errorf("open package %s: %w", path, os.ErrNotExist)
		}
		return models.Bundle{}, fmt.Errorf("open package %s: %w", path, err)
	}
	defer zr.Close()

	manifest, ok := decodeEntry[Manifest](&zr.Reader, EntryManifest)
	if !ok {
		return models.Bundle{}, fmt.Errorf("%s: %w", path, ErrNoManifest)
	}
	projectID := manifest.ProjectID

	b := models.Bundle{Projects: []models.Project{manifest.Project()}}
	for _, ref := range manifest.Chapters {
		file := ref.File
		if file == "" {
			file = ChapterEntry(ref.ID)
		}
		c, ok := decodeEntry[models.Chapter](&zr.Reader, file)
		if !ok || c.ProjectID != projectID {
			w.log.Warn(ctx, "package chapter unreadable", "path", path, "chapter", ref.ID)
			continue
		}
		b.Chapters = append(b.Chapters, c)
	}
	for _, dt := range models.DocTypes {
		if d, ok := decodeEntry[models.WorldDocument](&zr.Reader, WorldEntry(dt)); ok && d.ProjectID == projectID {
			b.WorldDocuments = append(b.WorldDocuments, d)
		}
	}

	var dropped int
	b.Characters, dropped = readList[models.Character](&zr.Reader, EntryCharacters, projectID)
	w.warnDropped(ctx, path, EntryCharacters, dropped)
	b.Terms, dropped = readList[models.Term](&zr.Reader, EntryTerms, projectID)
	w.warnDropped(ctx, path, EntryTerms, dropped)
	b.Memos, dropped = readList[models.Memo](&zr.Reader, EntryMemos, projectID)
	w.warnDropped(ctx, path, EntryMemos, dropped)
	b.Snapshots, dropped = readList[models.Snapshot](&zr.Reader, EntrySnapshots, projectID)
	w.warnDropped(ctx, path, EntrySnapshots, dropped)

	if ts, n, ok := decodeList[models.Tombstone](&zr.Reader, EntryTombstones); ok {
		w.warnDropped(ctx, path, EntryTombstones, n)
		for _, t := range ts {
			if t.ProjectID == projectID {
				b.Tombstones = append(b.Tombstones, t)
			}
		}
	}
	return b, nil
}

func readList[T models.Entity](zr *zip.Reader, name, projectID string) ([]T, int) {
	items, dropped, ok := decodeList[T](zr, name)
	if !ok {
		return nil, 0
	}
	var out []T
	for _, it := range items {
		if it.EntityProjectID() != projectID {
			dropped++
			continue
		}
		out = append(out, it)
	}
	return out, dropped
}

func (w *Writer) warnDropped(ctx context.Context, path, entry string, n int) {
	if n > 0 {
		w.log.Warn(ctx, "package entries dropped", "path", path, "entry", entry, "count", n)
	}
}
