package repomanager

import (
	"context"
	"database/sql"

	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/server/repositories/failures"
	"github.com/flowguard/flowguard/internal/server/repositories/runs"
	"github.com/flowguard/flowguard/internal/server/repositories/schemas"
	"github.com/flowguard/flowguard/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Schemas(db dbx.DBTX) schemas.Repository
	Runs(db dbx.DBTX) runs.Repository
	Failures(db dbx.DBTX) failures.Repository
}
