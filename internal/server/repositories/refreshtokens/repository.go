// Package refreshtokens stores the refresh tokens handed out at login and
// rotated on every refresh.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	// Find returns common.ErrorNotFound for an unknown token.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	// Delete reports whether the token existed.
	Delete(ctx context.Context, token string) (bool, error)
	// DeleteExpired drops the user's tokens that expired before now.
	DeleteExpired(ctx context.Context, userID string, now time.Time) (int64, error)
}
