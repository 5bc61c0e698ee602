package session

import (
	"context"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
)

// Session is the persisted, encrypted credential of a connected account.
type Session struct {
	Provider           string    `json:"provider"`
	UserID             string    `json:"userId"`
	Email              string    `json:"email,omitempty"`
	ExpiresAt          time.Time `json:"expiresAt"`
	AccessTokenCipher  string    `json:"accessTokenCipher,omitempty"`
	RefreshTokenCipher string    `json:"refreshTokenCipher,omitempty"`
}

// Store persists at most one session.
type Store interface {
	// Get returns nil when no session is stored.
	Get(ctx context.Context) (*Session, error)
	Set(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// MetadataStore keeps the session as JSON under one metadata key.
type MetadataStore struct {
	repo metadata.Repository
}

func NewMetadataStore(repo metadata.Repository) *MetadataStore {
	return &MetadataStore{repo: repo}
}

func (s *MetadataStore) Get(ctx context.Context) (*Session, error) {
	var out Session
	ok, err := metadata.GetJSON(ctx, s.repo, metadata.KeySession, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

func (s *MetadataStore) Set(ctx context.Context, sess *Session) error {
	return metadata.SetJSON(ctx, s.repo, metadata.KeySession, sess)
}

func (s *MetadataStore) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, metadata.KeySession)
}
