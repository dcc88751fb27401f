// Package schemas persists processed schema uploads.
package schemas

import (
	"context"

	"github.com/flowguard/flowguard/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, schema *models.APISchema) (*models.APISchema, error)
	GetByID(ctx context.Context, userID int64, id int64) (*models.APISchema, error)
	GetByHash(ctx context.Context, userID int64, hash string) (*models.APISchema, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.APISchema, error)
}
