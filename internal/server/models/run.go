package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ValidRiskLevel reports whether s is one of the known risk levels.
func ValidRiskLevel(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// TestRun is one execution of a schema's test suite.
type TestRun struct {
	ID             int64
	SchemaID       int64
	UserID         int64
	Status         RunStatus
	TotalTests     int
	PassedTests    int
	FailedTests    int
	ErrorTests     int
	StabilityScore *float64
	Agent1Called   bool
	Agent2Called   bool
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// TestFailure is one non-passed result of a run, later enriched by the
// failure-analysis agent.
type TestFailure struct {
	ID              int64
	RunID           int64
	Endpoint        string
	HTTPMethod      string
	TestType        string
	RequestPayload  map[string]any
	ResponseSnippet string
	StatusCode      *int
	ResponseTimeMS  float64
	FailureReason   string
	RootCause       string
	RiskLevel       string
	FixSuggestion   string
}

// Analyzed reports whether the failure already carries agent analysis.
func (f *TestFailure) Analyzed() bool {
	return f.RootCause != ""
}
