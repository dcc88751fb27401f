package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/cryptox"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/gemini"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/repositories/repomanager"
)

// runReuseWindow is how fresh a completed run must be for the complete test
// flow to reuse it instead of executing the suite again.
const runReuseWindow = time.Hour

// failureAnalyzer is what ReportService needs from the failure agent.
type failureAnalyzer interface {
	Analyze(ctx context.Context, failure *models.TestFailure) *gemini.FailureAnalysis
}

// newFailureAnalyzer is a seam for testing without a live Gemini client.
var newFailureAnalyzer = func(ctx context.Context, apiKey, model string, logger logging.Logger) (failureAnalyzer, error) {
	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return gemini.NewFailureAgent(client, model, logger), nil
}

// RunDetails is one run with its stored failures.
type RunDetails struct {
	Run      *models.TestRun
	Failures []*models.TestFailure
}

// AnalysisResult is the outcome of a failure analysis request. Cached means
// the run was analyzed before and stored verdicts were returned as-is.
type AnalysisResult struct {
	Run      *models.TestRun
	Failures []*models.TestFailure
	Cached   bool
}

// FailureExplanation is one failure as presented in the final report.
type FailureExplanation struct {
	Endpoint      string `json:"endpoint"`
	HTTPMethod    string `json:"http_method"`
	TestType      string `json:"test_type"`
	StatusCode    *int   `json:"status_code"`
	FailureReason string `json:"failure_reason"`
	RootCause     string `json:"root_cause"`
	RiskLevel     string `json:"risk_level"`
	FixSuggestion string `json:"fix_suggestion"`
}

// ReportSummary aggregates run counts for the final report.
type ReportSummary struct {
	EndpointsTested int `json:"endpoints_tested"`
	TotalTests      int `json:"total_tests"`
	PassedTests     int `json:"passed_tests"`
	FailedTests     int `json:"failed_tests"`
	ErrorTests      int `json:"error_tests"`
	TotalFailures   int `json:"total_failures"`
}

// AIUsage records which agents ran for this suite.
type AIUsage struct {
	Agent1Called bool `json:"agent1_called"`
	Agent2Called bool `json:"agent2_called"`
}

// FinalReport is the full per-run report: score, health band, explained
// failures and recommendations.
type FinalReport struct {
	TestRunID       int64                `json:"test_run_id"`
	SchemaID        int64                `json:"schema_id"`
	BaseURL         string               `json:"base_url"`
	ExecutionDate   time.Time            `json:"execution_date"`
	Summary         ReportSummary        `json:"summary"`
	StabilityScore  float64              `json:"stability_score"`
	OverallHealth   string               `json:"overall_health"`
	AIUsage         AIUsage              `json:"ai_usage"`
	Failures        []FailureExplanation `json:"failures"`
	Recommendations []string             `json:"recommendations"`
}

// FlowResult is the outcome of the complete test flow: the report plus
// whether a fresh run had to be executed for it.
type FlowResult struct {
	RunID  int64
	Reused bool
	Report *FinalReport
}

// ReportService reads back runs, drives the failure-analysis agent, and
// assembles final reports.
type ReportService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	runner      *RunnerService
	liteModel   string
	sealKey     []byte
	logger      logging.Logger
}

// NewReportService constructs a ReportService using repositories and server config.
func NewReportService(db *sql.DB, m repomanager.RepositoryManager, runner *RunnerService,
	cfg *config.Config, logger logging.Logger) *ReportService {
	return &ReportService{
		db:          db,
		repomanager: m,
		runner:      runner,
		liteModel:   cfg.GeminiLiteModel,
		sealKey:     cryptox.DeriveSealKey(cfg.APIKeySealSecret),
		logger:      logger,
	}
}

// ListRuns returns all runs for a schema the caller owns, newest first.
func (s *ReportService) ListRuns(ctx context.Context, userID, schemaID int64) ([]*models.TestRun, error) {
	// Ownership check doubles as existence check.
	if _, err := s.repomanager.Schemas(s.db).GetByID(ctx, userID, schemaID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading schema: %w", err)
	}

	list, err := s.repomanager.Runs(s.db).ListBySchema(ctx, userID, schemaID)
	if err != nil {
		return nil, fmt.Errorf("error listing test runs: %w", err)
	}
	return list, nil
}

// Details loads one run with its failures.
func (s *ReportService) Details(ctx context.Context, userID, runID int64) (*RunDetails, error) {
	run, err := s.repomanager.Runs(s.db).GetByID(ctx, userID, runID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading test run: %w", err)
	}

	failures, err := s.repomanager.Failures(s.db).ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("error loading failures: %w", err)
	}

	return &RunDetails{Run: run, Failures: failures}, nil
}

// AnalyzeFailures runs the failure agent over every stored failure of the
// run. Idempotent: a run already analyzed returns the stored verdicts
// without another AI call.
func (s *ReportService) AnalyzeFailures(ctx context.Context, userID, runID int64) (*AnalysisResult, error) {
	runsRepo := s.repomanager.Runs(s.db)

	run, err := runsRepo.GetByID(ctx, userID, runID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading test run: %w", err)
	}

	failuresRepo := s.repomanager.Failures(s.db)
	failures, err := failuresRepo.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("error loading failures: %w", err)
	}

	if len(failures) == 0 {
		return &AnalysisResult{Run: run, Cached: false}, nil
	}
	if run.Agent2Called {
		return &AnalysisResult{Run: run, Failures: failures, Cached: true}, nil
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	apiKey, err := openGeminiKey(user, s.sealKey)
	if err != nil {
		return nil, err
	}

	analyzer, err := newFailureAnalyzer(ctx, apiKey, s.liteModel, s.logger)
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}

	for _, f := range failures {
		verdict := analyzer.Analyze(ctx, f)
		f.RootCause = verdict.RootCause
		f.RiskLevel = verdict.RiskLevel
		f.FixSuggestion = verdict.FixSuggestion
		if err := failuresRepo.SaveAnalysis(ctx, f); err != nil {
			return nil, fmt.Errorf("error saving analysis: %w", err)
		}
	}

	if err := runsRepo.MarkAgent2Called(ctx, runID); err != nil {
		return nil, fmt.Errorf("error marking run analyzed: %w", err)
	}
	run.Agent2Called = true

	return &AnalysisResult{Run: run, Failures: failures, Cached: false}, nil
}

// FinalReport assembles the report for one run.
func (s *ReportService) FinalReport(ctx context.Context, userID, runID int64) (*FinalReport, error) {
	details, err := s.Details(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	run := details.Run

	schema, err := s.repomanager.Schemas(s.db).GetByID(ctx, userID, run.SchemaID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading schema: %w", err)
	}

	explanations := make([]FailureExplanation, 0, len(details.Failures))
	for _, f := range details.Failures {
		e := FailureExplanation{
			Endpoint:      f.Endpoint,
			HTTPMethod:    f.HTTPMethod,
			TestType:      f.TestType,
			StatusCode:    f.StatusCode,
			FailureReason: f.FailureReason,
			RootCause:     f.RootCause,
			RiskLevel:     f.RiskLevel,
			FixSuggestion: f.FixSuggestion,
		}
		if e.RootCause == "" {
			e.RootCause = "Not analyzed yet"
		}
		if e.RiskLevel == "" {
			e.RiskLevel = string(models.RiskMedium)
		}
		if e.FixSuggestion == "" {
			e.FixSuggestion = "Run failure analysis first"
		}
		explanations = append(explanations, e)
	}

	report := &FinalReport{
		TestRunID:     run.ID,
		SchemaID:      run.SchemaID,
		BaseURL:       "Unknown",
		ExecutionDate: run.StartedAt,
		Summary: ReportSummary{
			TotalTests:    run.TotalTests,
			PassedTests:   run.PassedTests,
			FailedTests:   run.FailedTests,
			ErrorTests:    run.ErrorTests,
			TotalFailures: len(details.Failures),
		},
		AIUsage:  AIUsage{Agent1Called: run.Agent1Called, Agent2Called: run.Agent2Called},
		Failures: explanations,
	}
	if schema != nil {
		report.BaseURL = schema.BaseURL
		report.Summary.EndpointsTested = len(schema.NormalizedSchema)
	}

	if run.StabilityScore != nil {
		report.StabilityScore = *run.StabilityScore
		report.OverallHealth = HealthBand(*run.StabilityScore)

		switch report.OverallHealth {
		case HealthExcellent:
			report.Recommendations = append(report.Recommendations,
				"API is very stable. Consider adding more edge case tests.")
		case HealthGood:
			report.Recommendations = append(report.Recommendations,
				"API is generally stable. Address the critical issues first.")
		case HealthFair:
			report.Recommendations = append(report.Recommendations,
				"API needs improvement. Focus on high-risk failures.")
		case HealthPoor:
			report.Recommendations = append(report.Recommendations,
				"API is unstable. Immediate action required on critical issues.")
		}
	}

	if len(details.Failures) > 0 && !run.Agent2Called {
		report.Recommendations = append(report.Recommendations,
			"Run failure analysis to get AI-powered root cause and fix suggestions.")
	}

	return report, nil
}

// CompleteTestFlow is the one-call pipeline: reuse or execute a run, analyze
// failures, assemble the final report. A completed run younger than an hour
// is reused instead of hitting the target API again. Failure analysis errors
// degrade to a log line so they never block the report.
func (s *ReportService) CompleteTestFlow(ctx context.Context, userID, schemaID int64) (*FlowResult, error) {
	if _, err := s.repomanager.Schemas(s.db).GetByID(ctx, userID, schemaID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading schema: %w", err)
	}

	var runID int64
	reused := false

	existing, err := s.repomanager.Runs(s.db).LatestCompleted(ctx, userID, schemaID, time.Now().Add(-runReuseWindow))
	switch {
	case err == nil:
		runID = existing.ID
		reused = true
	case errors.Is(err, common.ErrorNotFound):
		summary, runErr := s.runner.Run(ctx, userID, schemaID)
		if runErr != nil {
			return nil, runErr
		}
		runID = summary.Run.ID
	default:
		return nil, fmt.Errorf("error checking recent runs: %w", err)
	}

	if _, err := s.AnalyzeFailures(ctx, userID, runID); err != nil {
		s.logger.Warn(ctx, "failure analysis failed, report will lack verdicts",
			"run_id", runID, "error", err.Error())
	}

	report, err := s.FinalReport(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	return &FlowResult{RunID: runID, Reused: reused, Report: report}, nil
}
