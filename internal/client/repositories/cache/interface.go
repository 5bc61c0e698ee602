// Package cache is the relational cache of the sync client: a plain data
// access object over SQLite for projects and their rows. World documents
// are not cached; they live only in the package file.
package cache

import (
	"context"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Repository reads and writes cached rows. Implementations run against
// either the database or a transaction.
type Repository interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	// GetProject returns common.ErrorNotFound when the project is not cached.
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpsertProject(ctx context.Context, p models.Project) error
	SetPackagePath(ctx context.Context, projectID, path string) error

	// LoadProject returns every cached row of the project as a bundle.
	LoadProject(ctx context.Context, projectID string) (models.Bundle, error)
	// ReplaceProject makes the cached rows of the bundle's project equal to
	// b, keeping the package binding. Cached tombstones are kept and rows
	// they cover are not written, so a replace never resurrects a deletion.
	ReplaceProject(ctx context.Context, projectID string, b models.Bundle) error
	DeleteProject(ctx context.Context, projectID string) error
	// ListTombstonedProjects returns projects known only by their tombstones.
	ListTombstonedProjects(ctx context.Context) ([]string, error)

	GetChapter(ctx context.Context, id string) (*models.Chapter, error)
	UpsertChapter(ctx context.Context, c models.Chapter) error
	UpsertCharacter(ctx context.Context, c models.Character) error
	UpsertTerm(ctx context.Context, t models.Term) error
	UpsertMemo(ctx context.Context, m models.Memo) error
	InsertSnapshot(ctx context.Context, s models.Snapshot) error
	UpsertTombstone(ctx context.Context, t models.Tombstone) error

	// DeleteEntity hard-deletes one row by kind and id.
	DeleteEntity(ctx context.Context, t models.EntityType, id string) error
}
