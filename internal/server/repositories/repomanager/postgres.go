// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/server/migrations"
	"github.com/flowguard/flowguard/internal/server/repositories/failures"
	"github.com/flowguard/flowguard/internal/server/repositories/runs"
	"github.com/flowguard/flowguard/internal/server/repositories/schemas"
	"github.com/flowguard/flowguard/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// Schemas returns a schemas.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Schemas(db dbx.DBTX) schemas.Repository {
	return schemas.NewPostgresRepository(db)
}

// Runs returns a runs.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Runs(db dbx.DBTX) runs.Repository {
	return runs.NewPostgresRepository(db)
}

// Failures returns a failures.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Failures(db dbx.DBTX) failures.Repository {
	return failures.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() (RepositoryManager, error) {
	return &PostgresRepositoryManager{}, nil
}
