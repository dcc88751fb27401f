package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/cryptox"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/services"
	"github.com/flowguard/flowguard/internal/server/validation"
)

type testAPI struct {
	router http.Handler
	rm     *memRepoManager
	cfg    *config.Config
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.APIKeySealSecret = "test-seal"

	rm := newMemRepoManager()
	logger := testLogger()

	userSvc := services.NewUserService(nil, rm, cfg)
	schemaSvc := services.NewSchemaService(nil, rm, cfg, validation.ValidateAnalysis, nil, logger)
	runnerSvc := services.NewRunnerService(nil, rm, cfg, logger)
	reportSvc := services.NewReportService(nil, rm, runnerSvc, cfg, logger)

	handlers := NewHandlers(userSvc, schemaSvc, runnerSvc, reportSvc, logger)
	return &testAPI{
		router: NewRouter(handlers, []byte(cfg.SecretKey)),
		rm:     rm,
		cfg:    cfg,
	}
}

func (a *testAPI) seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := cryptox.HashPassword([]byte(password))
	require.NoError(t, err)
	user, err := a.rm.users.Create(context.Background(), &models.User{
		FullName:     "Alice Example",
		Email:        email,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return user
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "bearer", resp.TokenType)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["detail"]
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "alice@example.com", "password123")

	token := api.login(t, "alice@example.com", "password123")

	rec := api.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "Alice Example", me["full_name"])
	assert.Equal(t, false, me["has_gemini_key"])
}

func TestLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "alice@example.com", "password123")

	rec := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid Credentials", decodeDetail(t, rec))
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decodeDetail(t, rec))

	rec = api.do(t, http.MethodGet, "/api/schemas/my-schemas", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Could not validate credentials", decodeDetail(t, rec))
}

func TestSignup_InvalidBody(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeDetail(t, rec))
}

func TestMySchemas(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")

	_, err := api.rm.schemas.Create(context.Background(), &models.APISchema{
		UserID:           user.ID,
		OriginalFilename: "petstore.json",
		BaseURL:          "http://api.example.com",
		SchemaHash:       "abc123",
		NormalizedSchema: []models.Endpoint{{Endpoint: "/pets", Method: "GET"}},
		TestCases: []models.TestCase{
			{Endpoint: "/pets", Method: "GET", TestType: "rate_limit", ExpectedFailure: true},
			{Endpoint: "/pets", Method: "GET", TestType: "timeout", ExpectedFailure: true},
		},
	})
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/api/schemas/my-schemas", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "petstore.json", list[0]["original_filename"])
	assert.Equal(t, float64(1), list[0]["total_endpoints"])
	assert.Equal(t, float64(2), list[0]["total_test_cases"])
}

func TestSchemaDetails_NotFound(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")

	rec := api.do(t, http.MethodGet, "/api/schemas/42", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeDetail(t, rec))
}

func seedCompletedRun(t *testing.T, api *testAPI, userID int64) (*models.APISchema, *models.TestRun) {
	t.Helper()
	schema, err := api.rm.schemas.Create(context.Background(), &models.APISchema{
		UserID:           userID,
		OriginalFilename: "petstore.json",
		BaseURL:          "http://api.example.com",
		SchemaHash:       "abc123",
		NormalizedSchema: []models.Endpoint{{Endpoint: "/pets", Method: "GET"}},
		TestCases:        []models.TestCase{{Endpoint: "/pets", Method: "GET", TestType: "rate_limit"}},
	})
	require.NoError(t, err)

	score := 100.0
	now := time.Now()
	run, err := api.rm.runs.Create(context.Background(), &models.TestRun{
		SchemaID:       schema.ID,
		UserID:         userID,
		Status:         models.RunStatusCompleted,
		TotalTests:     1,
		PassedTests:    1,
		StabilityScore: &score,
		Agent1Called:   true,
		StartedAt:      now.Add(-time.Minute),
		CompletedAt:    &now,
	})
	require.NoError(t, err)
	return schema, run
}

func TestListTestRuns(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")
	schema, run := seedCompletedRun(t, api, user.ID)

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/schemas/%d/test-runs", schema.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(run.ID), list[0]["run_id"])
	assert.Equal(t, "completed", list[0]["status"])
	assert.Equal(t, float64(100), list[0]["stability_score"])
}

func TestTestRunDetails(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")
	_, run := seedCompletedRun(t, api, user.ID)

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/schemas/test-runs/%d", run.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TestRun  map[string]any   `json:"test_run"`
		Failures []map[string]any `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(run.ID), resp.TestRun["run_id"])
	assert.Empty(t, resp.Failures)
}

func TestAnalyzeFailures_NoFailures(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")
	_, run := seedCompletedRun(t, api, user.ID)

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/schemas/test-runs/%d/analyze-failures", run.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "No failures to analyze", resp["message"])
	assert.Equal(t, false, resp["agent2_called"])
}

func TestFinalReport_CleanRun(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(t, "alice@example.com", "password123")
	token := api.login(t, "alice@example.com", "password123")
	schema, run := seedCompletedRun(t, api, user.ID)

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/schemas/test-runs/%d/final-report", run.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, float64(run.ID), report["test_run_id"])
	assert.Equal(t, float64(schema.ID), report["schema_id"])
	assert.Equal(t, float64(100), report["stability_score"])
	assert.Equal(t, "EXCELLENT", report["overall_health"])
}

func TestRunDetails_OtherUsersRunHidden(t *testing.T) {
	api := newTestAPI(t)
	owner := api.seedUser(t, "alice@example.com", "password123")
	api.seedUser(t, "bob@example.com", "password123")
	_, run := seedCompletedRun(t, api, owner.ID)

	token := api.login(t, "bob@example.com", "password123")
	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/schemas/test-runs/%d", run.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
