package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/repositories/failures"
	"github.com/flowguard/flowguard/internal/server/repositories/runs"
	"github.com/flowguard/flowguard/internal/server/repositories/schemas"
	"github.com/flowguard/flowguard/internal/server/repositories/users"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type memUsersRepo struct {
	users  map[int64]*models.User
	nextID int64
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{users: map[int64]*models.User{}, nextID: 1}
}

func (r *memUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == user.Email {
			return nil, fmt.Errorf("db error: %w", common.ErrorAlreadyExists)
		}
	}
	stored := *user
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.nextID++
	r.users[stored.ID] = &stored
	return &stored, nil
}

func (r *memUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r *memUsersRepo) UpdateAPIKey(ctx context.Context, id int64, cipher, nonce []byte) error {
	u, ok := r.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.APIKeyCipher = cipher
	u.APIKeyNonce = nonce
	return nil
}

type memSchemasRepo struct {
	schemas map[int64]*models.APISchema
	nextID  int64
}

func newMemSchemasRepo() *memSchemasRepo {
	return &memSchemasRepo{schemas: map[int64]*models.APISchema{}, nextID: 1}
}

func (r *memSchemasRepo) Create(ctx context.Context, schema *models.APISchema) (*models.APISchema, error) {
	stored := *schema
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.nextID++
	r.schemas[stored.ID] = &stored
	return &stored, nil
}

func (r *memSchemasRepo) GetByID(ctx context.Context, userID, id int64) (*models.APISchema, error) {
	s, ok := r.schemas[id]
	if !ok || s.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return s, nil
}

func (r *memSchemasRepo) GetByHash(ctx context.Context, userID int64, hash string) (*models.APISchema, error) {
	for _, s := range r.schemas {
		if s.UserID == userID && s.SchemaHash == hash {
			return s, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memSchemasRepo) ListByUser(ctx context.Context, userID int64) ([]*models.APISchema, error) {
	var out []*models.APISchema
	for _, s := range r.schemas {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memRunsRepo struct {
	runs   map[int64]*models.TestRun
	nextID int64
}

func newMemRunsRepo() *memRunsRepo {
	return &memRunsRepo{runs: map[int64]*models.TestRun{}, nextID: 1}
}

func (r *memRunsRepo) Create(ctx context.Context, run *models.TestRun) (*models.TestRun, error) {
	stored := *run
	stored.ID = r.nextID
	r.nextID++
	r.runs[stored.ID] = &stored
	return &stored, nil
}

func (r *memRunsRepo) GetByID(ctx context.Context, userID, id int64) (*models.TestRun, error) {
	run, ok := r.runs[id]
	if !ok || run.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return run, nil
}

func (r *memRunsRepo) ListBySchema(ctx context.Context, userID, schemaID int64) ([]*models.TestRun, error) {
	var out []*models.TestRun
	for _, run := range r.runs {
		if run.UserID == userID && run.SchemaID == schemaID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *memRunsRepo) LatestCompleted(ctx context.Context, userID, schemaID int64, notBefore time.Time) (*models.TestRun, error) {
	var latest *models.TestRun
	for _, run := range r.runs {
		if run.UserID != userID || run.SchemaID != schemaID || run.Status != models.RunStatusCompleted {
			continue
		}
		if run.StartedAt.Before(notBefore) {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	return latest, nil
}

func (r *memRunsRepo) Complete(ctx context.Context, run *models.TestRun) error {
	stored, ok := r.runs[run.ID]
	if !ok {
		return common.ErrorNotFound
	}
	*stored = *run
	return nil
}

func (r *memRunsRepo) MarkAgent2Called(ctx context.Context, id int64) error {
	run, ok := r.runs[id]
	if !ok {
		return common.ErrorNotFound
	}
	run.Agent2Called = true
	return nil
}

type memFailuresRepo struct {
	failures map[int64]*models.TestFailure
	nextID   int64
}

func newMemFailuresRepo() *memFailuresRepo {
	return &memFailuresRepo{failures: map[int64]*models.TestFailure{}, nextID: 1}
}

func (r *memFailuresRepo) CreateBatch(ctx context.Context, batch []*models.TestFailure) error {
	for _, f := range batch {
		f.ID = r.nextID
		r.nextID++
		stored := *f
		r.failures[stored.ID] = &stored
	}
	return nil
}

func (r *memFailuresRepo) ListByRun(ctx context.Context, runID int64) ([]*models.TestFailure, error) {
	var out []*models.TestFailure
	for _, f := range r.failures {
		if f.RunID == runID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFailuresRepo) SaveAnalysis(ctx context.Context, failure *models.TestFailure) error {
	stored, ok := r.failures[failure.ID]
	if !ok {
		return common.ErrorNotFound
	}
	stored.RootCause = failure.RootCause
	stored.RiskLevel = failure.RiskLevel
	stored.FixSuggestion = failure.FixSuggestion
	return nil
}

type memRepoManager struct {
	users    *memUsersRepo
	schemas  *memSchemasRepo
	runs     *memRunsRepo
	failures *memFailuresRepo
}

func newMemRepoManager() *memRepoManager {
	return &memRepoManager{
		users:    newMemUsersRepo(),
		schemas:  newMemSchemasRepo(),
		runs:     newMemRunsRepo(),
		failures: newMemFailuresRepo(),
	}
}

func (m *memRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *memRepoManager) Users(db dbx.DBTX) users.Repository                  { return m.users }
func (m *memRepoManager) Schemas(db dbx.DBTX) schemas.Repository              { return m.schemas }
func (m *memRepoManager) Runs(db dbx.DBTX) runs.Repository                    { return m.runs }
func (m *memRepoManager) Failures(db dbx.DBTX) failures.Repository            { return m.failures }
