package entities

import (
	"context"

	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
)

type Repository interface {
	// Upsert stores row unless the stored copy is newer. It reports whether
	// the row was written.
	Upsert(ctx context.Context, row *models.EntityRow) (bool, error)
	// ListByUser returns every row of userID ordered by type and id.
	ListByUser(ctx context.Context, userID string) ([]*models.EntityRow, error)
	// TombstoneIDs returns the ids of the user's stored tombstones.
	TombstoneIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	// Delete removes one non-tombstone entity.
	Delete(ctx context.Context, userID, entityType, entityID string) error
	// DeleteProject removes every non-tombstone row of a project.
	DeleteProject(ctx context.Context, userID, projectID string) error
}
