package models

import "time"

// Endpoint is one operation of a normalized schema as produced by the
// analysis agent.
type Endpoint struct {
	Endpoint       string         `json:"endpoint"`
	Method         string         `json:"method"`
	RequestBody    map[string]any `json:"request_body,omitempty"`
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
	Parameters     []any          `json:"parameters,omitempty"`
}

// TestCase is a failure-oriented probe generated for one endpoint.
type TestCase struct {
	Endpoint        string            `json:"endpoint"`
	Method          string            `json:"method"`
	TestType        string            `json:"test_type"`
	Payload         map[string]any    `json:"payload,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ExpectedFailure bool              `json:"expected_failure"`
}

// AgentAnalysis is the structured output of the schema-analysis agent:
// either an accepted normalization with test cases, or a rejection with
// errors.
type AgentAnalysis struct {
	Status           string     `json:"status"` // "ok" or "reject"
	NormalizedSchema []Endpoint `json:"normalized_schema"`
	TestCases        []TestCase `json:"test_cases"`
	Errors           []string   `json:"errors"`
}

// APISchema is a processed upload: the clean normalized schema and its
// generated test cases, keyed by the canonical hash for dedup.
type APISchema struct {
	ID               int64
	UserID           int64
	OriginalFilename string
	BaseURL          string
	SchemaHash       string
	NormalizedSchema []Endpoint
	TestCases        []TestCase
	ArchiveKey       string
	CreatedAt        time.Time
}
