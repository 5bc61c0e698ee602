package localbundle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Projects deleted locally leave no cached rows behind. Their tombstones are
// queued in the metadata store until a push has delivered them.

// QueueTombstones appends ts to the queue of projectID.
func QueueTombstones(ctx context.Context, repo metadata.Repository, projectID string, ts ...models.Tombstone) error {
	var cur []models.Tombstone
	if _, err := metadata.GetJSON(ctx, repo, metadata.QueuedTombstonesKey(projectID), &cur); err != nil {
		return err
	}
	cur = append(cur, ts...)
	return metadata.SetJSON(ctx, repo, metadata.QueuedTombstonesKey(projectID), cur)
}

// QueuedTombstones returns every queue keyed by project id.
func QueuedTombstones(ctx context.Context, repo metadata.Repository) (map[string][]models.Tombstone, error) {
	raw, err := repo.ListPrefix(ctx, metadata.PrefixTombstones)
	if err != nil {
		return nil, fmt.Errorf("list queued tombstones: %w", err)
	}
	out := make(map[string][]models.Tombstone, len(raw))
	for key, value := range raw {
		var ts []models.Tombstone
		if err := json.Unmarshal(value, &ts); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, metadata.PrefixTombstones)] = ts
	}
	return out, nil
}

// ClearQueued drops the queue of projectID.
func ClearQueued(ctx context.Context, repo metadata.Repository, projectID string) error {
	return repo.Delete(ctx, metadata.QueuedTombstonesKey(projectID))
}
