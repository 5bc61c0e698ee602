package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/dbx"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	domain "github.com/dmitrijs2005/plotkeeper/internal/models"
	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
	"github.com/dmitrijs2005/plotkeeper/internal/server/repositories/entities"
	"github.com/dmitrijs2005/plotkeeper/internal/server/repositories/repomanager"
)

// Archiver keeps a copy of every accepted upload outside the database.
type Archiver interface {
	Archive(ctx context.Context, userID string, b domain.Bundle) (string, error)
}

// UpsertResult counts rows written and rows the stored copy won against.
type UpsertResult struct {
	Stored  int
	Skipped int
}

// BundleService stores bundles as one row per entity. A stored row is only
// replaced by a row that is not older, and tombstones are terminal: the
// entity they name is removed and never accepted again.
type BundleService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archive     Archiver
	logger      logging.Logger
	now         func() time.Time
}

// NewBundleService builds the service; archive may be nil.
func NewBundleService(db *sql.DB, m repomanager.RepositoryManager, archive Archiver, l logging.Logger) *BundleService {
	return &BundleService{
		db:          db,
		repomanager: m,
		archive:     archive,
		logger:      l.With("module", "bundles"),
		now:         time.Now,
	}
}

// Fetch returns the user's entities, narrowed to projectIDs when given.
func (s *BundleService) Fetch(ctx context.Context, userID string, projectIDs []string) (domain.Bundle, error) {
	rows, err := s.repomanager.Entities(s.db).ListByUser(ctx, userID)
	if err != nil {
		return domain.Bundle{}, fmt.Errorf("error listing entities: %w", err)
	}

	var want map[string]struct{}
	if len(projectIDs) > 0 {
		want = make(map[string]struct{}, len(projectIDs))
		for _, id := range projectIDs {
			want[id] = struct{}{}
		}
	}

	var b domain.Bundle
	for _, row := range rows {
		if want != nil {
			if _, ok := want[row.ProjectID]; !ok {
				continue
			}
		}
		if err := appendRow(&b, row); err != nil {
			return domain.Bundle{}, fmt.Errorf("error decoding %s %s: %w", row.EntityType, row.EntityID, err)
		}
	}
	b.Sort()
	return b, nil
}

// Upsert stores b for userID.
func (s *BundleService) Upsert(ctx context.Context, userID string, b domain.Bundle) (UpsertResult, error) {
	var res UpsertResult

	if err := b.Validate(); err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	if b.IsEmpty() {
		return res, nil
	}

	rows, err := bundleRows(userID, b)
	if err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	tombRows, err := tombstoneRows(userID, b.Tombstones)
	if err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res = UpsertResult{}
		repo := s.repomanager.Entities(tx)

		dead, err := repo.TombstoneIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("error loading tombstones: %w", err)
		}

		for i, row := range tombRows {
			t := b.Tombstones[i]
			ok, err := repo.Upsert(ctx, row)
			if err != nil {
				return fmt.Errorf("error storing tombstone %s: %w", row.EntityID, err)
			}
			res.count(ok)
			dead[row.EntityID] = struct{}{}

			if err := applyTombstone(ctx, repo, userID, t); err != nil {
				return err
			}
		}

		for _, row := range rows {
			if isDead(dead, row) {
				res.Skipped++
				continue
			}
			ok, err := repo.Upsert(ctx, row)
			if err != nil {
				return fmt.Errorf("error storing %s %s: %w", row.EntityType, row.EntityID, err)
			}
			res.count(ok)
		}

		if res.Stored > 0 {
			if err := s.repomanager.Users(tx).TouchLastSync(ctx, userID, s.now()); err != nil {
				return fmt.Errorf("error updating last sync: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	s.logger.Info(ctx, "bundle stored", "user", userID, "stored", res.Stored, "skipped", res.Skipped)

	if s.archive != nil && res.Stored > 0 {
		key, err := s.archive.Archive(ctx, userID, b)
		if err != nil {
			// the rows are committed; a missing archive copy is not fatal
			s.logger.Warn(ctx, "bundle archive failed", "user", userID, "error", err)
		} else {
			s.logger.Debug(ctx, "bundle archived", "user", userID, "key", key)
		}
	}

	return res, nil
}

func (r *UpsertResult) count(stored bool) {
	if stored {
		r.Stored++
	} else {
		r.Skipped++
	}
}

func applyTombstone(ctx context.Context, repo entities.Repository, userID string, t domain.Tombstone) error {
	if t.EntityType == domain.EntityProject {
		if err := repo.DeleteProject(ctx, userID, t.EntityID); err != nil {
			return fmt.Errorf("error deleting project %s: %w", t.EntityID, err)
		}
		return nil
	}
	if err := repo.Delete(ctx, userID, string(t.EntityType), t.EntityID); err != nil {
		return fmt.Errorf("error deleting %s %s: %w", t.EntityType, t.EntityID, err)
	}
	return nil
}

func isDead(dead map[string]struct{}, row *models.EntityRow) bool {
	if _, ok := dead[domain.TombstoneID(domain.EntityType(row.EntityType), row.EntityID)]; ok {
		return true
	}
	_, ok := dead[domain.TombstoneID(domain.EntityProject, row.ProjectID)]
	return ok
}

func bundleRows(userID string, b domain.Bundle) ([]*models.EntityRow, error) {
	var out []*models.EntityRow
	var err error
	if out, err = appendRows(out, userID, b.Projects); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.Chapters); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.Characters); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.Terms); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.WorldDocuments); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.Memos); err != nil {
		return nil, err
	}
	if out, err = appendRows(out, userID, b.Snapshots); err != nil {
		return nil, err
	}
	return out, nil
}

func appendRows[T domain.Entity](out []*models.EntityRow, userID string, items []T) ([]*models.EntityRow, error) {
	for _, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out = append(out, &models.EntityRow{
			UserID:     userID,
			EntityType: string(it.EntityType()),
			EntityID:   it.EntityID(),
			ProjectID:  it.EntityProjectID(),
			Payload:    payload,
			UpdatedAt:  it.Timestamp(),
		})
	}
	return out, nil
}

func tombstoneRows(userID string, tombs []domain.Tombstone) ([]*models.EntityRow, error) {
	out := make([]*models.EntityRow, 0, len(tombs))
	for _, t := range tombs {
		if t.ID == "" {
			t.ID = domain.TombstoneID(t.EntityType, t.EntityID)
		}
		payload, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		ts := t.UpdatedAt
		if ts.IsZero() {
			ts = t.DeletedAt
		}
		out = append(out, &models.EntityRow{
			UserID:     userID,
			EntityType: string(domain.EntityTombstone),
			EntityID:   t.ID,
			ProjectID:  t.ProjectID,
			Payload:    payload,
			UpdatedAt:  ts,
		})
	}
	return out, nil
}

func appendRow(b *domain.Bundle, row *models.EntityRow) error {
	switch domain.EntityType(row.EntityType) {
	case domain.EntityProject:
		return decodeInto(row.Payload, &b.Projects)
	case domain.EntityChapter:
		return decodeInto(row.Payload, &b.Chapters)
	case domain.EntityCharacter:
		return decodeInto(row.Payload, &b.Characters)
	case domain.EntityTerm:
		return decodeInto(row.Payload, &b.Terms)
	case domain.EntityWorldDocument:
		return decodeInto(row.Payload, &b.WorldDocuments)
	case domain.EntityMemo:
		return decodeInto(row.Payload, &b.Memos)
	case domain.EntitySnapshot:
		return decodeInto(row.Payload, &b.Snapshots)
	case domain.EntityTombstone:
		return decodeInto(row.Payload, &b.Tombstones)
	default:
		return fmt.Errorf("unknown entity type %q", row.EntityType)
	}
}

func decodeInto[T any](payload []byte, dst *[]T) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}
