package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Store persists baselines in the metadata key/value store, one key per
// project.
type Store struct {
	repo metadata.Repository
}

func NewStore(repo metadata.Repository) *Store {
	return &Store{repo: repo}
}

// Load returns the project's baseline, or an empty one if none was saved.
func (s *Store) Load(ctx context.Context, projectID string) (*Baseline, error) {
	b := New(projectID)
	ok, err := metadata.GetJSON(ctx, s.repo, metadata.BaselineKey(projectID), b)
	if err != nil {
		return nil, fmt.Errorf("load baseline %s: %w", projectID, err)
	}
	if !ok {
		return New(projectID), nil
	}
	if b.ProjectID == "" {
		b.ProjectID = projectID
	}
	return b, nil
}

// LoadAll returns every saved baseline keyed by project id.
func (s *Store) LoadAll(ctx context.Context) (map[string]*Baseline, error) {
	raw, err := s.repo.ListPrefix(ctx, metadata.PrefixBaseline)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}

	out := make(map[string]*Baseline, len(raw))
	for key, v := range raw {
		projectID := strings.TrimPrefix(key, metadata.PrefixBaseline)
		b := New(projectID)
		if err := json.Unmarshal(v, b); err != nil {
			return nil, fmt.Errorf("decode baseline %s: %w", projectID, err)
		}
		b.ProjectID = projectID
		out[projectID] = b
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, b *Baseline) error {
	if err := metadata.SetJSON(ctx, s.repo, metadata.BaselineKey(b.ProjectID), b); err != nil {
		return fmt.Errorf("save baseline %s: %w", b.ProjectID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, projectID string) error {
	return s.repo.Delete(ctx, metadata.BaselineKey(projectID))
}

// ForceResolution records a user's choice for one conflicting entity. The
// entry is cleared by the next successful commit of the project.
func (s *Store) ForceResolution(ctx context.Context, projectID string, t models.EntityType, id string, r models.Resolution) error {
	b, err := s.Load(ctx, projectID)
	if err != nil {
		return err
	}
	b.Force(t, id, r)
	return s.Save(ctx, b)
}
