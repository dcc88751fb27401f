package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, run *models.TestRun) (*models.TestRun, error) {
	query :=
		`INSERT INTO test_runs (schema_id, user_id, status, total_tests, agent1_called)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING run_id, started_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		run.SchemaID, run.UserID, run.Status, run.TotalTests, run.Agent1Called).
		Scan(&run.ID, &run.StartedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return run, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, userID int64, id int64) (*models.TestRun, error) {
	query := selectRuns + ` WHERE user_id = $1 AND run_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, id))
}

func (r *PostgresRepository) ListBySchema(ctx context.Context, userID int64, schemaID int64) ([]*models.TestRun, error) {
	query := selectRuns + ` WHERE user_id = $1 AND schema_id = $2 ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, schemaID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// LatestCompleted returns the newest completed run for the schema started
// at or after notBefore. Used to reuse fresh results instead of rerunning.
func (r *PostgresRepository) LatestCompleted(ctx context.Context, userID int64, schemaID int64, notBefore time.Time) (*models.TestRun, error) {
	query := selectRuns +
		` WHERE user_id = $1 AND schema_id = $2 AND status = $3 AND started_at >= $4
		  ORDER BY started_at DESC
		  LIMIT 1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, schemaID, models.RunStatusCompleted, notBefore))
}

func (r *PostgresRepository) Complete(ctx context.Context, run *models.TestRun) error {
	query :=
		`UPDATE test_runs
		 SET status = $2, total_tests = $3, passed_tests = $4, failed_tests = $5,
		     error_tests = $6, stability_score = $7, completed_at = $8
		 WHERE run_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		run.ID, run.Status, run.TotalTests, run.PassedTests, run.FailedTests,
		run.ErrorTests, run.StabilityScore, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *PostgresRepository) MarkAgent2Called(ctx context.Context, id int64) error {
	query := `UPDATE test_runs SET agent2_called = TRUE WHERE run_id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

const selectRuns = `SELECT run_id, schema_id, user_id, status, total_tests, passed_tests, failed_tests,
       error_tests, stability_score, agent1_called, agent2_called, started_at, completed_at
  FROM test_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row rowScanner) (*models.TestRun, error) {
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return run, nil
}

func scanRun(row rowScanner) (*models.TestRun, error) {
	run := &models.TestRun{}
	var score sql.NullFloat64
	var completed sql.NullTime

	err := row.Scan(&run.ID, &run.SchemaID, &run.UserID, &run.Status,
		&run.TotalTests, &run.PassedTests, &run.FailedTests, &run.ErrorTests,
		&score, &run.Agent1Called, &run.Agent2Called, &run.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if score.Valid {
		run.StabilityScore = &score.Float64
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}

	return run, nil
}
