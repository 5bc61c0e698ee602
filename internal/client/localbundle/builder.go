// Package localbundle assembles the local side of a sync run: the cached
// relational rows of every project plus the world documents that only live
// in each project's package file. It also rebuilds the cache from a package
// when the two have diverged.
package localbundle

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/plotkeeper/internal/client/pkgfile"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

type Builder struct {
	store    *cache.Store
	meta     metadata.Repository
	packages *pkgfile.Writer
	log      logging.Logger
}

func NewBuilder(store *cache.Store, meta metadata.Repository, packages *pkgfile.Writer, log logging.Logger) *Builder {
	return &Builder{
		store:    store,
		meta:     meta,
		packages: packages,
		log:      log.With("module", "localbundle"),
	}
}

// Build returns the local bundle of all projects, sorted.
func (b *Builder) Build(ctx context.Context) (models.Bundle, error) {
	repo := b.store.Repository()

	projects, err := repo.ListProjects(ctx)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("list projects: %w", err)
	}
	orphans, err := repo.ListTombstonedProjects(ctx)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("list tombstoned projects: %w", err)
	}

	var out models.Bundle
	for _, p := range projects {
		part, err := repo.LoadProject(ctx, p.ID)
		if err != nil {
			return models.Bundle{}, fmt.Errorf("project %s: %w", p.ID, err)
		}
		if p.PackagePath != "" {
			docs, err := b.WorldDocuments(ctx, p.PackagePath, p.ID)
			if err != nil {
				return models.Bundle{}, err
			}
			part.WorldDocuments = docs
		}
		out.Append(part)
	}
	for _, pid := range orphans {
		part, err := repo.LoadProject(ctx, pid)
		if err != nil {
			return models.Bundle{}, fmt.Errorf("project %s: %w", pid, err)
		}
		out.Append(part)
	}

	queued, err := QueuedTombstones(ctx, b.meta)
	if err != nil {
		return models.Bundle{}, err
	}
	out.Tombstones = mergeQueued(out.Tombstones, queued)
	out.Sort()
	return out, nil
}

// WorldDocuments reads every world document of one package concurrently.
// Missing or invalid documents are skipped.
func (b *Builder) WorldDocuments(ctx context.Context, path, projectID string) ([]models.WorldDocument, error) {
	found := make([]*models.WorldDocument, len(models.DocTypes))

	g, ctx := errgroup.WithContext(ctx)
	for i, dt := range models.DocTypes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if doc, ok := b.packages.ReadWorldDocument(path, projectID, dt); ok {
				found[i] = &doc
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read world documents of %s: %w", projectID, err)
	}

	var docs []models.WorldDocument
	for _, d := range found {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

// RestoreProject replaces the cached rows of the package's project with the
// package content and binds the project to path. It returns the project id.
func (b *Builder) RestoreProject(ctx context.Context, path string) (string, error) {
	pkg, err := b.packages.ReadPackage(ctx, path)
	if err != nil {
		return "", err
	}
	project := pkg.Projects[0]
	pkg.Projects[0].PackagePath = path

	err = b.store.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		return repo.ReplaceProject(ctx, project.ID, pkg)
	})
	if err != nil {
		return "", fmt.Errorf("restore %s from %s: %w", project.ID, path, err)
	}
	b.log.Info(ctx, "cache restored from package", "project", project.ID, "path", path)
	return project.ID, nil
}

// mergeQueued adds queued tombstones to ts, keeping the later of two with
// the same id.
func mergeQueued(ts []models.Tombstone, queued map[string][]models.Tombstone) []models.Tombstone {
	if len(queued) == 0 {
		return ts
	}
	byID := make(map[string]models.Tombstone, len(ts))
	for _, t := range ts {
		byID[t.ID] = t
	}
	for _, list := range queued {
		for _, t := range list {
			if cur, ok := byID[t.ID]; ok && !t.UpdatedAt.After(cur.UpdatedAt) {
				continue
			}
			byID[t.ID] = t
		}
	}
	out := make([]models.Tombstone, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
