package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxUploadSize caps schema uploads; OpenAPI documents are small.
const maxUploadSize = 5 << 20

// Handlers bundles the services behind the REST surface.
type Handlers struct {
	users   *services.UserService
	schemas *services.SchemaService
	runner  *services.RunnerService
	reports *services.ReportService
	logger  logging.Logger
}

func NewHandlers(users *services.UserService, schemas *services.SchemaService,
	runner *services.RunnerService, reports *services.ReportService, logger logging.Logger) *Handlers {
	return &Handlers{users: users, schemas: schemas, runner: runner, reports: reports, logger: logger}
}

// --- auth ---

type signupRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	GeminiAPIKey string `json:"gemini_api_key"`
}

type userResponse struct {
	UserID       int64     `json:"user_id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	HasGeminiKey bool      `json:"has_gemini_key"`
	CreatedAt    time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		UserID:       u.ID,
		FullName:     u.FullName,
		Email:        u.Email,
		HasGeminiKey: u.HasAPIKey(),
		CreatedAt:    u.CreatedAt,
	}
}

func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), req.FullName, req.Email, req.Password, req.GeminiAPIKey)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := h.users.Profile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type apiKeyRequest struct {
	GeminiAPIKey string `json:"gemini_api_key"`
}

func (h *Handlers) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req apiKeyRequest
	if err := decodeJSON(r, &req); err != nil || req.GeminiAPIKey == "" {
		writeDetail(w, http.StatusBadRequest, "Gemini API key is required")
		return
	}

	if err := h.users.UpdateAPIKey(r.Context(), id, req.GeminiAPIKey); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "API key updated successfully"})
}

func (h *Handlers) ValidateGeminiKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(r, &req); err != nil || req.GeminiAPIKey == "" {
		writeDetail(w, http.StatusBadRequest, "Gemini API key is required")
		return
	}

	valid, err := h.users.ValidateGeminiKey(r.Context(), req.GeminiAPIKey)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// --- schemas ---

type schemaListItem struct {
	SchemaID         int64     `json:"schema_id"`
	BaseURL          string    `json:"base_url"`
	OriginalFilename string    `json:"original_filename"`
	SchemaHash       string    `json:"schema_hash"`
	TotalEndpoints   int       `json:"total_endpoints"`
	TotalTestCases   int       `json:"total_test_cases"`
	CreatedAt        time.Time `json:"created_at"`
}

func (h *Handlers) MySchemas(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	list, err := h.schemas.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]schemaListItem, 0, len(list))
	for _, s := range list {
		items = append(items, schemaListItem{
			SchemaID:         s.ID,
			BaseURL:          s.BaseURL,
			OriginalFilename: s.OriginalFilename,
			SchemaHash:       s.SchemaHash,
			TotalEndpoints:   len(s.NormalizedSchema),
			TotalTestCases:   len(s.TestCases),
			CreatedAt:        s.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

type uploadResponse struct {
	UploadID string `json:"upload_id"`
	Message  string `json:"message"`
	BaseURL  string `json:"base_url"`
	Filename string `json:"filename"`
	FileSize int    `json:"file_size"`
	Status   string `json:"status"`
	SchemaID int64  `json:"schema_id"`
}

func (h *Handlers) UploadSchema(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	baseURL := r.FormValue("base_url")

	file, header, err := r.FormFile("schema_file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Schema file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error reading schema file")
		return
	}

	result, err := h.schemas.Upload(r.Context(), id, header.Filename, content, baseURL)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := uploadResponse{
		UploadID: uuid.New().String(),
		BaseURL:  result.Schema.BaseURL,
		Filename: header.Filename,
		FileSize: len(content),
		SchemaID: result.Schema.ID,
	}
	if result.Cached {
		resp.Status = "cached"
		resp.Message = "Schema already exists in cache. Skipping AI processing."
	} else {
		resp.Status = "processed"
		resp.Message = "Schema processed and saved successfully"
	}

	writeJSON(w, http.StatusOK, resp)
}

type schemaDetailsResponse struct {
	SchemaID         int64             `json:"schema_id"`
	BaseURL          string            `json:"base_url"`
	OriginalFilename string            `json:"original_filename"`
	SchemaHash       string            `json:"schema_hash"`
	NormalizedSchema []models.Endpoint `json:"normalized_schema"`
	TestCases        []models.TestCase `json:"test_cases"`
	DownloadURL      string            `json:"download_url,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (h *Handlers) SchemaDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	schemaID, err := pathID(r, "schema_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid schema id")
		return
	}

	schema, err := h.schemas.Details(r.Context(), id, schemaID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, schemaDetailsResponse{
		SchemaID:         schema.ID,
		BaseURL:          schema.BaseURL,
		OriginalFilename: schema.OriginalFilename,
		SchemaHash:       schema.SchemaHash,
		NormalizedSchema: schema.NormalizedSchema,
		TestCases:        schema.TestCases,
		DownloadURL:      h.schemas.DownloadURL(r.Context(), schema),
		CreatedAt:        schema.CreatedAt,
	})
}

// --- runs ---

type runResponse struct {
	RunID          int64      `json:"run_id"`
	SchemaID       int64      `json:"schema_id"`
	Status         string     `json:"status"`
	TotalTests     int        `json:"total_tests"`
	PassedTests    int        `json:"passed_tests"`
	FailedTests    int        `json:"failed_tests"`
	ErrorTests     int        `json:"error_tests"`
	StabilityScore *float64   `json:"stability_score"`
	Agent1Called   bool       `json:"agent1_called"`
	Agent2Called   bool       `json:"agent2_called"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func toRunResponse(run *models.TestRun) runResponse {
	return runResponse{
		RunID:          run.ID,
		SchemaID:       run.SchemaID,
		Status:         string(run.Status),
		TotalTests:     run.TotalTests,
		PassedTests:    run.PassedTests,
		FailedTests:    run.FailedTests,
		ErrorTests:     run.ErrorTests,
		StabilityScore: run.StabilityScore,
		Agent1Called:   run.Agent1Called,
		Agent2Called:   run.Agent2Called,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
	}
}

type failureResponse struct {
	FailureID       int64          `json:"failure_id"`
	Endpoint        string         `json:"endpoint"`
	HTTPMethod      string         `json:"http_method"`
	TestType        string         `json:"test_type"`
	RequestPayload  map[string]any `json:"request_payload"`
	ResponseSnippet string         `json:"response_snippet"`
	StatusCode      *int           `json:"status_code"`
	ResponseTimeMS  float64        `json:"response_time_ms"`
	FailureReason   string         `json:"failure_reason"`
	RootCause       string         `json:"root_cause"`
	RiskLevel       string         `json:"risk_level"`
	FixSuggestion   string         `json:"fix_suggestion"`
}

func toFailureResponses(failures []*models.TestFailure) []failureResponse {
	out := make([]failureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureResponse{
			FailureID:       f.ID,
			Endpoint:        f.Endpoint,
			HTTPMethod:      f.HTTPMethod,
			TestType:        f.TestType,
			RequestPayload:  f.RequestPayload,
			ResponseSnippet: f.ResponseSnippet,
			StatusCode:      f.StatusCode,
			ResponseTimeMS:  f.ResponseTimeMS,
			FailureReason:   f.FailureReason,
			RootCause:       f.RootCause,
			RiskLevel:       f.RiskLevel,
			FixSuggestion:   f.FixSuggestion,
		})
	}
	return out
}

func (h *Handlers) RunTests(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	schemaID, err := pathID(r, "schema_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid schema id")
		return
	}

	summary, err := h.runner.Run(r.Context(), id, schemaID)
	if err != nil {
		writeError(w, err)
		return
	}
	run := summary.Run

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":          run.ID,
		"schema_id":       run.SchemaID,
		"total_tests":     run.TotalTests,
		"passed":          run.PassedTests,
		"failed":          run.FailedTests,
		"errors":          run.ErrorTests,
		"stability_score": run.StabilityScore,
		"message":         fmt.Sprintf("Tests completed. %d failures detected.", run.FailedTests+run.ErrorTests),
		"has_failures":    run.FailedTests > 0 || run.ErrorTests > 0,
	})
}

func (h *Handlers) ListTestRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	schemaID, err := pathID(r, "schema_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid schema id")
		return
	}

	runs, err := h.reports.ListRuns(r.Context(), id, schemaID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) TestRunDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	runID, err := pathID(r, "run_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	details, err := h.reports.Details(r.Context(), id, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"test_run": toRunResponse(details.Run),
		"failures": toFailureResponses(details.Failures),
	})
}

func (h *Handlers) AnalyzeFailures(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	runID, err := pathID(r, "run_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	result, err := h.reports.AnalyzeFailures(r.Context(), id, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(result.Failures) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":       "No failures to analyze",
			"run_id":        runID,
			"agent2_called": false,
		})
		return
	}

	message := "Failures analyzed successfully"
	if result.Cached {
		message = "Using cached analysis"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        message,
		"run_id":         runID,
		"agent2_called":  true,
		"analyzed_count": len(result.Failures),
		"analyses":       toFailureResponses(result.Failures),
	})
}

func (h *Handlers) FinalReport(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	runID, err := pathID(r, "run_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	report, err := h.reports.FinalReport(r.Context(), id, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) CompleteTestFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	schemaID, err := pathID(r, "schema_id")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid schema id")
		return
	}

	flow, err := h.reports.CompleteTestFlow(r.Context(), id, schemaID)
	if err != nil {
		writeError(w, err)
		return
	}

	message := "Tests executed successfully"
	if flow.Reused {
		message = "Using recent test run"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"run_id":  flow.RunID,
		"report":  flow.Report,
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
