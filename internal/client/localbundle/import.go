package localbundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// ImportResult describes what ImportPackage changed.
type ImportResult struct {
	ProjectID string
	// Restored is set when the project was unknown and imported whole.
	Restored bool
	Updated  int
	Deleted  int
}

// Changed reports whether the import touched the cache.
func (r ImportResult) Changed() bool {
	return r.Restored || r.Updated > 0 || r.Deleted > 0
}

// ImportPackage folds a package modified outside this process into the
// cache. An unknown project is restored whole. For a cached project every
// entity that is missing from the cache or newer in the package replaces
// the cached row, and tombstones found in the package delete their rows.
func (b *Builder) ImportPackage(ctx context.Context, path string) (ImportResult, error) {
	pkg, err := b.packages.ReadPackage(ctx, path)
	if err != nil {
		return ImportResult{}, err
	}
	project := pkg.Projects[0]
	res := ImportResult{ProjectID: project.ID}

	_, err = b.store.Repository().GetProject(ctx, project.ID)
	if errors.Is(err, common.ErrorNotFound) {
		if _, err := b.RestoreProject(ctx, path); err != nil {
			return res, err
		}
		res.Restored = true
		return res, nil
	}
	if err != nil {
		return res, err
	}

	err = b.store.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		cur, err := repo.LoadProject(ctx, project.ID)
		if err != nil {
			return err
		}
		cached := map[string]bool{}
		dead := map[string]bool{}
		for _, t := range cur.Tombstones {
			cached[t.ID] = true
			dead[models.TombstoneID(t.EntityType, t.EntityID)] = true
		}
		for _, t := range pkg.Tombstones {
			dead[models.TombstoneID(t.EntityType, t.EntityID)] = true
		}

		var n int
		add := func(k int, err error) error {
			n += k
			return err
		}
		if err := add(importNewer(ctx, pkg.Projects, cur.Projects, dead, repo.UpsertProject)); err != nil {
			return err
		}
		if err := add(importNewer(ctx, pkg.Chapters, cur.Chapters, dead, repo.UpsertChapter)); err != nil {
			return err
		}
		if err := add(importNewer(ctx, pkg.Characters, cur.Characters, dead, repo.UpsertCharacter)); err != nil {
			return err
		}
		if err := add(importNewer(ctx, pkg.Terms, cur.Terms, dead, repo.UpsertTerm)); err != nil {
			return err
		}
		if err := add(importNewer(ctx, pkg.Memos, cur.Memos, dead, repo.UpsertMemo)); err != nil {
			return err
		}
		if err := add(importNewer(ctx, pkg.Snapshots, cur.Snapshots, dead, repo.InsertSnapshot)); err != nil {
			return err
		}
		res.Updated = n

		for _, t := range pkg.Tombstones {
			if cached[t.ID] {
				continue
			}
			if err := repo.UpsertTombstone(ctx, t); err != nil {
				return err
			}
			if err := repo.DeleteEntity(ctx, t.EntityType, t.EntityID); err != nil {
				return err
			}
			res.Deleted++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}
	if res.Changed() {
		b.log.Info(ctx, "package changes imported", "project", project.ID, "updated", res.Updated, "deleted", res.Deleted)
	}
	return res, nil
}

func importNewer[T models.Entity](ctx context.Context, in, cur []T, dead map[string]bool, upsert func(context.Context, T) error) (int, error) {
	known := make(map[string]T, len(cur))
	for _, c := range cur {
		known[c.EntityID()] = c
	}
	n := 0
	for _, it := range in {
		if dead[models.TombstoneID(it.EntityType(), it.EntityID())] {
			continue
		}
		if c, ok := known[it.EntityID()]; ok && !it.Timestamp().After(c.Timestamp()) {
			continue
		}
		if err := upsert(ctx, it); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
