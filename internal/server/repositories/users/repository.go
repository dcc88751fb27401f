// Package users persists FlowGuard accounts.
package users

import (
	"context"

	"github.com/flowguard/flowguard/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdateAPIKey(ctx context.Context, id int64, cipher, nonce []byte) error
}
