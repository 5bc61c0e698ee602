// Package entities provides the PostgreSQL-backed store of synced entities.
// Every entity is one JSON document keyed by (user, type, id).
package entities

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/dbx"
	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
)

const tombstoneType = "tombstone"

// PostgresRepository implements entity storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the row or overwrites the stored one when the incoming
// updated_at is not older. Zero rows affected means the stored copy won.
func (r *PostgresRepository) Upsert(ctx context.Context, row *models.EntityRow) (bool, error) {
	query := `
		INSERT INTO entities (user_id, entity_type, entity_id, project_id, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, entity_type, entity_id)
		DO UPDATE SET
			project_id = EXCLUDED.project_id,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
			WHERE entities.updated_at <= EXCLUDED.updated_at;
	`
	res, err := r.db.ExecContext(ctx, query,
		row.UserID, row.EntityType, row.EntityID, row.ProjectID, []byte(row.Payload), row.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.EntityRow, error) {
	query := `SELECT entity_type, entity_id, project_id, payload, updated_at FROM entities
		WHERE user_id = $1
		ORDER BY entity_type, entity_id
		`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []*models.EntityRow
	for rows.Next() {
		item := models.EntityRow{UserID: userID}
		var payload []byte
		if err := rows.Scan(&item.EntityType, &item.EntityID, &item.ProjectID, &payload, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Payload = payload
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) TombstoneIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	query := `SELECT entity_id FROM entities WHERE user_id = $1 AND entity_type = $2`
	rows, err := r.db.QueryContext(ctx, query, userID, tombstoneType)
	if err != nil {
		return nil, fmt.Errorf("failed to select tombstones: %w", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, entityType, entityID string) error {
	query := `DELETE FROM entities WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3`
	if _, err := r.db.ExecContext(ctx, query, userID, entityType, entityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteProject keeps the project's tombstones so the deletion propagates
// to clients that have not seen it yet.
func (r *PostgresRepository) DeleteProject(ctx context.Context, userID, projectID string) error {
	query := `DELETE FROM entities WHERE user_id = $1 AND project_id = $2 AND entity_type <> $3`
	if _, err := r.db.ExecContext(ctx, query, userID, projectID, tombstoneType); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
