package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	TouchLastSync(ctx context.Context, userID string, at time.Time) error
}
