// Package runs persists test-run executions.
package runs

import (
	"context"
	"time"

	"github.com/flowguard/flowguard/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, run *models.TestRun) (*models.TestRun, error)
	GetByID(ctx context.Context, userID int64, id int64) (*models.TestRun, error)
	ListBySchema(ctx context.Context, userID int64, schemaID int64) ([]*models.TestRun, error)
	LatestCompleted(ctx context.Context, userID int64, schemaID int64, notBefore time.Time) (*models.TestRun, error)
	Complete(ctx context.Context, run *models.TestRun) error
	MarkAgent2Called(ctx context.Context, id int64) error
}
