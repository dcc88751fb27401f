// Package failures persists per-test failure records.
package failures

import (
	"context"

	"github.com/flowguard/flowguard/internal/server/models"
)

type Repository interface {
	CreateBatch(ctx context.Context, failures []*models.TestFailure) error
	ListByRun(ctx context.Context, runID int64) ([]*models.TestFailure, error)
	SaveAnalysis(ctx context.Context, failure *models.TestFailure) error
}
