package schemas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, schema *models.APISchema) (*models.APISchema, error) {

	normalized, err := json.Marshal(schema.NormalizedSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized schema: %w", err)
	}
	cases, err := json.Marshal(schema.TestCases)
	if err != nil {
		return nil, fmt.Errorf("marshal test cases: %w", err)
	}

	query :=
		`INSERT INTO api_schemas (user_id, original_filename, base_url, schema_hash, normalized_schema, test_cases, archive_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING schema_id, created_at
		 `

	err = r.db.QueryRowContext(ctx, query,
		schema.UserID, schema.OriginalFilename, schema.BaseURL, schema.SchemaHash,
		normalized, cases, schema.ArchiveKey).
		Scan(&schema.ID, &schema.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return schema, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, userID int64, id int64) (*models.APISchema, error) {
	query :=
		`SELECT schema_id, user_id, original_filename, base_url, schema_hash, normalized_schema, test_cases, archive_key, created_at
		 FROM api_schemas
		 WHERE user_id = $1 AND schema_id = $2
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, id))
}

func (r *PostgresRepository) GetByHash(ctx context.Context, userID int64, hash string) (*models.APISchema, error) {
	query :=
		`SELECT schema_id, user_id, original_filename, base_url, schema_hash, normalized_schema, test_cases, archive_key, created_at
		 FROM api_schemas
		 WHERE user_id = $1 AND schema_hash = $2
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, hash))
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]*models.APISchema, error) {
	query :=
		`SELECT schema_id, user_id, original_filename, base_url, schema_hash, normalized_schema, test_cases, archive_key, created_at
		 FROM api_schemas
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.APISchema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row rowScanner) (*models.APISchema, error) {
	schema, err := scanSchema(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return schema, nil
}

func scanSchema(row rowScanner) (*models.APISchema, error) {
	schema := &models.APISchema{}
	var normalized, cases []byte

	err := row.Scan(&schema.ID, &schema.UserID, &schema.OriginalFilename, &schema.BaseURL,
		&schema.SchemaHash, &normalized, &cases, &schema.ArchiveKey, &schema.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := json.Unmarshal(normalized, &schema.NormalizedSchema); err != nil {
		return nil, fmt.Errorf("unmarshal normalized schema: %w", err)
	}
	if err := json.Unmarshal(cases, &schema.TestCases); err != nil {
		return nil, fmt.Errorf("unmarshal test cases: %w", err)
	}

	return schema, nil
}
