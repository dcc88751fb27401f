package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"
)

const (
	resultPassed  = "passed"
	resultFailed  = "failed"
	resultError   = "error"
	resultTimeout = "timeout"

	maxResponseRead = 64 << 10
	snippetLimit    = 500
	rawBodyLimit    = 1000
)

// sensitiveKeys are redacted from response bodies before anything is stored.
var sensitiveKeys = []string{
	"password", "token", "secret", "key", "authorization",
	"credit_card", "ssn", "phone", "email", "address",
}

var stackTraceIndicators = []string{
	"traceback", "at line", `file "`, "exception:",
	"java.lang.", "system.exception", "stack trace",
	"error occurred", "internal server error",
}

// caseOutcome is the classified result of one executed test case.
type caseOutcome struct {
	result  string
	failure *models.TestFailure
}

// RunSummary is the stored outcome of one executed suite.
type RunSummary struct {
	Run      *models.TestRun
	Failures []*models.TestFailure
}

// RunnerService executes a schema's test suite against the target API.
// Execution is pure rule-based detection, no AI anywhere in this path.
type RunnerService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	timeout       time.Duration
	maxConcurrent int
	httpClient    *http.Client
	logger        logging.Logger
}

// NewRunnerService constructs a RunnerService using repositories and server config.
func NewRunnerService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *RunnerService {
	return &RunnerService{
		db:            db,
		repomanager:   m,
		timeout:       cfg.TestTimeout,
		maxConcurrent: cfg.TestMaxConcurrent,
		httpClient:    &http.Client{},
		logger:        logger,
	}
}

// Run executes all test cases of the schema with bounded concurrency,
// persists failures for later analysis, and completes the run with counts
// and a stability score.
func (s *RunnerService) Run(ctx context.Context, userID, schemaID int64) (*RunSummary, error) {
	schema, err := s.repomanager.Schemas(s.db).GetByID(ctx, userID, schemaID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading schema: %w", err)
	}
	if len(schema.TestCases) == 0 {
		return nil, fmt.Errorf("%w: no test cases available for this schema", common.ErrorValidation)
	}

	runsRepo := s.repomanager.Runs(s.db)
	run := &models.TestRun{
		SchemaID:     schemaID,
		UserID:       userID,
		Status:       models.RunStatusRunning,
		TotalTests:   len(schema.TestCases),
		Agent1Called: true,
	}
	run, err = runsRepo.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("error creating test run: %w", err)
	}

	outcomes := s.executeSuite(ctx, schema.BaseURL, schema.TestCases)

	var failures []*models.TestFailure
	for _, o := range outcomes {
		switch o.result {
		case resultPassed:
			run.PassedTests++
		case resultFailed:
			run.FailedTests++
		default:
			run.ErrorTests++
		}
		if o.failure != nil {
			o.failure.RunID = run.ID
			failures = append(failures, o.failure)
		}
	}

	if len(failures) > 0 {
		if err := s.repomanager.Failures(s.db).CreateBatch(ctx, failures); err != nil {
			return nil, fmt.Errorf("error saving failures: %w", err)
		}
	}

	score := StabilityScore(CountPenalties(failures))
	now := time.Now()
	run.Status = models.RunStatusCompleted
	run.StabilityScore = &score
	run.CompletedAt = &now

	if err := runsRepo.Complete(ctx, run); err != nil {
		return nil, fmt.Errorf("error completing test run: %w", err)
	}

	s.logger.Info(ctx, "test run completed",
		"run_id", run.ID, "passed", run.PassedTests, "failed", run.FailedTests,
		"errors", run.ErrorTests, "score", score)

	return &RunSummary{Run: run, Failures: failures}, nil
}

// executeSuite runs all cases with at most maxConcurrent in flight. Results
// keep the order of the input cases.
func (s *RunnerService) executeSuite(ctx context.Context, baseURL string, cases []models.TestCase) []caseOutcome {
	outcomes := make([]caseOutcome, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for i := range cases {
		g.Go(func() error {
			outcomes[i] = s.executeCase(gctx, baseURL, &cases[i])
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func (s *RunnerService) executeCase(ctx context.Context, baseURL string, tc *models.TestCase) caseOutcome {
	start := time.Now()

	failure := func(result, reason, snippet string, statusCode *int) caseOutcome {
		return caseOutcome{
			result: result,
			failure: &models.TestFailure{
				Endpoint:        tc.Endpoint,
				HTTPMethod:      tc.Method,
				TestType:        tc.TestType,
				RequestPayload:  tc.Payload,
				ResponseSnippet: snippet,
				StatusCode:      statusCode,
				ResponseTimeMS:  float64(time.Since(start).Microseconds()) / 1000,
				FailureReason:   reason,
			},
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body io.Reader
	if len(tc.Payload) > 0 {
		encoded, err := json.Marshal(tc.Payload)
		if err != nil {
			return failure(resultError, fmt.Sprintf("Execution error: %v", err), "", nil)
		}
		body = bytes.NewReader(encoded)
	}

	url := strings.TrimRight(baseURL, "/") + tc.Endpoint
	req, err := http.NewRequestWithContext(reqCtx, tc.Method, url, body)
	if err != nil {
		return failure(resultError, fmt.Sprintf("Execution error: %v", err), "", nil)
	}
	for k, v := range tc.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(resultTimeout, "Request timeout", "", nil)
		}
		return failure(resultError, fmt.Sprintf("Execution error: %v", err), "", nil)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(resultTimeout, "Request timeout", "", nil)
		}
		return failure(resultError, fmt.Sprintf("Execution error: %v", err), "", nil)
	}

	sanitized := sanitizeResponse(string(raw))
	snippet := sanitized
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit]
	}

	if reason := analyzeResponse(resp.StatusCode, sanitized, tc); reason != "" {
		code := resp.StatusCode
		return failure(resultFailed, reason, snippet, &code)
	}

	return caseOutcome{result: resultPassed}
}

// analyzeResponse applies the rule-based failure detection. An empty return
// means the test passed.
func analyzeResponse(statusCode int, responseBody string, tc *models.TestCase) string {
	if statusCode >= 500 {
		return fmt.Sprintf("5xx Server Error (%d)", statusCode)
	}

	if tc.ExpectedFailure && statusCode < 400 {
		return "Invalid success - bad input was accepted"
	}

	if detectsStackTrace(responseBody) {
		return "Stack trace or sensitive info leaked"
	}

	if tc.TestType == "sql_injection" && statusCode < 400 {
		return "SQL injection attempt succeeded"
	}
	if tc.TestType == "xss" && statusCode < 400 {
		return "XSS attempt succeeded"
	}

	return ""
}

func detectsStackTrace(responseBody string) bool {
	lower := strings.ToLower(responseBody)
	for _, indicator := range stackTraceIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// sanitizeResponse redacts sensitive fields from JSON bodies. Non-JSON
// bodies are kept as-is but truncated.
func sanitizeResponse(responseBody string) string {
	if responseBody == "" {
		return ""
	}

	var data any
	if err := json.Unmarshal([]byte(responseBody), &data); err != nil {
		if len(responseBody) > rawBodyLimit {
			return responseBody[:rawBodyLimit]
		}
		return responseBody
	}

	redacted, err := json.Marshal(redactValue(data))
	if err != nil {
		return ""
	}
	return string(redacted)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if sensitiveKey(k) {
				val[k] = "***REDACTED***"
			} else {
				val[k] = redactValue(inner)
			}
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = redactValue(item)
		}
		return val
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
