package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/dbx"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
	failuresrepo "github.com/flowguard/flowguard/internal/server/repositories/failures"
	runsrepo "github.com/flowguard/flowguard/internal/server/repositories/runs"
	schemasrepo "github.com/flowguard/flowguard/internal/server/repositories/schemas"
	usersrepo "github.com/flowguard/flowguard/internal/server/repositories/users"
)

// --- in-memory fakes ---

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeUsersRepo struct {
	users  map[int64]*models.User
	nextID int64

	createErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: map[int64]*models.User{}, nextID: 1}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	f.nextID++
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) UpdateAPIKey(ctx context.Context, id int64, cipher, nonce []byte) error {
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.APIKeyCipher = cipher
	u.APIKeyNonce = nonce
	return nil
}

type fakeSchemasRepo struct {
	schemas map[int64]*models.APISchema
	nextID  int64
}

func newFakeSchemasRepo() *fakeSchemasRepo {
	return &fakeSchemasRepo{schemas: map[int64]*models.APISchema{}, nextID: 1}
}

func (f *fakeSchemasRepo) Create(ctx context.Context, s *models.APISchema) (*models.APISchema, error) {
	for _, existing := range f.schemas {
		if existing.UserID == s.UserID && existing.SchemaHash == s.SchemaHash {
			return nil, common.ErrorAlreadyExists
		}
	}
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	f.nextID++
	f.schemas[s.ID] = s
	return s, nil
}

func (f *fakeSchemasRepo) GetByID(ctx context.Context, userID, id int64) (*models.APISchema, error) {
	s, ok := f.schemas[id]
	if !ok || s.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return s, nil
}

func (f *fakeSchemasRepo) GetByHash(ctx context.Context, userID int64, hash string) (*models.APISchema, error) {
	for _, s := range f.schemas {
		if s.UserID == userID && s.SchemaHash == hash {
			return s, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSchemasRepo) ListByUser(ctx context.Context, userID int64) ([]*models.APISchema, error) {
	var out []*models.APISchema
	for _, s := range f.schemas {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeRunsRepo struct {
	runs   map[int64]*models.TestRun
	nextID int64
}

func newFakeRunsRepo() *fakeRunsRepo {
	return &fakeRunsRepo{runs: map[int64]*models.TestRun{}, nextID: 1}
}

func (f *fakeRunsRepo) Create(ctx context.Context, r *models.TestRun) (*models.TestRun, error) {
	r.ID = f.nextID
	r.StartedAt = time.Now()
	f.nextID++
	f.runs[r.ID] = r
	return r, nil
}

func (f *fakeRunsRepo) GetByID(ctx context.Context, userID, id int64) (*models.TestRun, error) {
	r, ok := f.runs[id]
	if !ok || r.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func (f *fakeRunsRepo) ListBySchema(ctx context.Context, userID, schemaID int64) ([]*models.TestRun, error) {
	var out []*models.TestRun
	for _, r := range f.runs {
		if r.UserID == userID && r.SchemaID == schemaID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunsRepo) LatestCompleted(ctx context.Context, userID, schemaID int64, notBefore time.Time) (*models.TestRun, error) {
	var latest *models.TestRun
	for _, r := range f.runs {
		if r.UserID != userID || r.SchemaID != schemaID || r.Status != models.RunStatusCompleted {
			continue
		}
		if r.StartedAt.Before(notBefore) {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	return latest, nil
}

func (f *fakeRunsRepo) Complete(ctx context.Context, r *models.TestRun) error {
	if _, ok := f.runs[r.ID]; !ok {
		return common.ErrorNotFound
	}
	f.runs[r.ID] = r
	return nil
}

func (f *fakeRunsRepo) MarkAgent2Called(ctx context.Context, id int64) error {
	r, ok := f.runs[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.Agent2Called = true
	return nil
}

type fakeFailuresRepo struct {
	failures map[int64]*models.TestFailure
	nextID   int64
}

func newFakeFailuresRepo() *fakeFailuresRepo {
	return &fakeFailuresRepo{failures: map[int64]*models.TestFailure{}, nextID: 1}
}

func (f *fakeFailuresRepo) CreateBatch(ctx context.Context, list []*models.TestFailure) error {
	for _, failure := range list {
		failure.ID = f.nextID
		f.nextID++
		f.failures[failure.ID] = failure
	}
	return nil
}

func (f *fakeFailuresRepo) ListByRun(ctx context.Context, runID int64) ([]*models.TestFailure, error) {
	var out []*models.TestFailure
	for id := int64(1); id < f.nextID; id++ {
		if failure, ok := f.failures[id]; ok && failure.RunID == runID {
			out = append(out, failure)
		}
	}
	return out, nil
}

func (f *fakeFailuresRepo) SaveAnalysis(ctx context.Context, failure *models.TestFailure) error {
	stored, ok := f.failures[failure.ID]
	if !ok {
		return common.ErrorNotFound
	}
	stored.RootCause = failure.RootCause
	stored.RiskLevel = failure.RiskLevel
	stored.FixSuggestion = failure.FixSuggestion
	return nil
}

type fakeRepoManager struct {
	users    *fakeUsersRepo
	schemas  *fakeSchemasRepo
	runs     *fakeRunsRepo
	failures *fakeFailuresRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:    newFakeUsersRepo(),
		schemas:  newFakeSchemasRepo(),
		runs:     newFakeRunsRepo(),
		failures: newFakeFailuresRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository              { return m.users }
func (m *fakeRepoManager) Schemas(db dbx.DBTX) schemasrepo.Repository          { return m.schemas }
func (m *fakeRepoManager) Runs(db dbx.DBTX) runsrepo.Repository                { return m.runs }
func (m *fakeRepoManager) Failures(db dbx.DBTX) failuresrepo.Repository        { return m.failures }
