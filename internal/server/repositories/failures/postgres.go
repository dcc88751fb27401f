package failures

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

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

func (r *PostgresRepository) CreateBatch(ctx context.Context, list []*models.TestFailure) error {
	query :=
		`INSERT INTO test_failures (run_id, endpoint, http_method, test_type, request_payload,
		     response_snippet, status_code, response_time_ms, failure_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING failure_id
		 `

	for _, f := range list {
		var payload []byte
		if f.RequestPayload != nil {
			var err error
			payload, err = json.Marshal(f.RequestPayload)
			if err != nil {
				return fmt.Errorf("marshal request payload: %w", err)
			}
		}

		var statusCode sql.NullInt64
		if f.StatusCode != nil {
			statusCode = sql.NullInt64{Int64: int64(*f.StatusCode), Valid: true}
		}

		err := r.db.QueryRowContext(ctx, query,
			f.RunID, f.Endpoint, f.HTTPMethod, f.TestType, payload,
			f.ResponseSnippet, statusCode, f.ResponseTimeMS, f.FailureReason).
			Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	return nil
}

func (r *PostgresRepository) ListByRun(ctx context.Context, runID int64) ([]*models.TestFailure, error) {
	query :=
		`SELECT failure_id, run_id, endpoint, http_method, test_type, request_payload,
		     response_snippet, status_code, response_time_ms, failure_reason,
		     root_cause, risk_level, fix_suggestion
		 FROM test_failures
		 WHERE run_id = $1
		 ORDER BY failure_id
		 `

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.TestFailure
	for rows.Next() {
		f := &models.TestFailure{}
		var payload []byte
		var statusCode sql.NullInt64

		err := rows.Scan(&f.ID, &f.RunID, &f.Endpoint, &f.HTTPMethod, &f.TestType, &payload,
			&f.ResponseSnippet, &statusCode, &f.ResponseTimeMS, &f.FailureReason,
			&f.RootCause, &f.RiskLevel, &f.FixSuggestion)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &f.RequestPayload); err != nil {
				return nil, fmt.Errorf("unmarshal request payload: %w", err)
			}
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			f.StatusCode = &code
		}

		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) SaveAnalysis(ctx context.Context, failure *models.TestFailure) error {
	query :=
		`UPDATE test_failures SET root_cause = $2, risk_level = $3, fix_suggestion = $4
		 WHERE failure_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		failure.ID, failure.RootCause, failure.RiskLevel, failure.FixSuggestion)
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
