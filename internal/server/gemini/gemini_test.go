package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error

	gotModel  string
	gotPrompt string
	gotTemp   float32
	gotMax    int32
}

func (f *fakeGenerator) Generate(ctx context.Context, model string, prompt string, temperature float32, maxTokens int32) (string, error) {
	f.gotModel = model
	f.gotPrompt = prompt
	f.gotTemp = temperature
	f.gotMax = maxTokens
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestSchemaAgent_Analyze_OK(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n" + `{
		"status": "ok",
		"normalized_schema": [{"endpoint": "/pets", "method": "GET"}],
		"test_cases": [{"endpoint": "/pets", "method": "GET", "test_type": "rate_limit", "expected_failure": true}],
		"errors": []
	}` + "\n```"}

	agent := NewSchemaAgent(gen, "gemini-2.0-flash", testLogger())
	analysis := agent.Analyze(context.Background(), map[string]any{"openapi": "3.0.0"}, "https://api.example.com")

	assert.Equal(t, "ok", analysis.Status)
	require.Len(t, analysis.NormalizedSchema, 1)
	assert.Equal(t, "/pets", analysis.NormalizedSchema[0].Endpoint)
	require.Len(t, analysis.TestCases, 1)
	assert.True(t, analysis.TestCases[0].ExpectedFailure)

	assert.Equal(t, "gemini-2.0-flash", gen.gotModel)
	assert.Equal(t, float32(0.1), gen.gotTemp)
	assert.Equal(t, int32(4000), gen.gotMax)
	assert.Contains(t, gen.gotPrompt, "https://api.example.com")
	assert.Contains(t, gen.gotPrompt, `"openapi": "3.0.0"`)
	assert.Contains(t, gen.gotPrompt, "DO NOT invent endpoints")
}

func TestSchemaAgent_Analyze_InvalidJSONRejects(t *testing.T) {
	gen := &fakeGenerator{response: "sorry, I cannot help with that"}

	agent := NewSchemaAgent(gen, "gemini-2.0-flash", testLogger())
	analysis := agent.Analyze(context.Background(), map[string]any{}, "https://api.example.com")

	assert.Equal(t, "reject", analysis.Status)
	require.NotEmpty(t, analysis.Errors)
	assert.Contains(t, analysis.Errors[0], "invalid JSON")
}

func TestSchemaAgent_Analyze_GenerateErrorRejects(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}

	agent := NewSchemaAgent(gen, "gemini-2.0-flash", testLogger())
	analysis := agent.Analyze(context.Background(), map[string]any{}, "https://api.example.com")

	assert.Equal(t, "reject", analysis.Status)
	require.NotEmpty(t, analysis.Errors)
	assert.Contains(t, analysis.Errors[0], "quota exceeded")
}

func TestFailureAgent_Analyze_OK(t *testing.T) {
	gen := &fakeGenerator{response: `{"root_cause": "missing input validation", "risk_level": "HIGH", "fix_suggestion": "validate request body"}`}

	code := 500
	failure := &models.TestFailure{
		Endpoint: "/pets", TestType: "sql_injection", StatusCode: &code,
		RequestPayload: map[string]any{"q": "1' OR 1=1"},
		FailureReason:  "server error 500",
	}

	agent := NewFailureAgent(gen, "gemini-1.5-flash", testLogger())
	result := agent.Analyze(context.Background(), failure)

	assert.Equal(t, "missing input validation", result.RootCause)
	assert.Equal(t, "high", result.RiskLevel)
	assert.Contains(t, gen.gotPrompt, "/pets")
	assert.Contains(t, gen.gotPrompt, "500")
	assert.Equal(t, int32(1000), gen.gotMax)
}

func TestFailureAgent_Analyze_UnknownRiskDefaultsToMedium(t *testing.T) {
	gen := &fakeGenerator{response: `{"root_cause": "x", "risk_level": "catastrophic", "fix_suggestion": "y"}`}

	agent := NewFailureAgent(gen, "gemini-1.5-flash", testLogger())
	result := agent.Analyze(context.Background(), &models.TestFailure{Endpoint: "/pets"})

	assert.Equal(t, "medium", result.RiskLevel)
}

func TestFailureAgent_Analyze_DegradesOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("unavailable")}

	agent := NewFailureAgent(gen, "gemini-1.5-flash", testLogger())
	result := agent.Analyze(context.Background(), &models.TestFailure{Endpoint: "/pets"})

	assert.Equal(t, "medium", result.RiskLevel)
	assert.NotEmpty(t, result.RootCause)
	assert.NotEmpty(t, result.FixSuggestion)
}

func TestFailureAgent_PromptTruncatesSnippet(t *testing.T) {
	gen := &fakeGenerator{response: `{"root_cause": "x", "risk_level": "low", "fix_suggestion": "y"}`}

	failure := &models.TestFailure{Endpoint: "/pets", ResponseSnippet: strings.Repeat("a", 5000)}
	agent := NewFailureAgent(gen, "gemini-1.5-flash", testLogger())
	agent.Analyze(context.Background(), failure)

	assert.NotContains(t, gen.gotPrompt, strings.Repeat("a", 1001))
	assert.Contains(t, gen.gotPrompt, strings.Repeat("a", 1000))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"valid key", http.StatusOK, nil},
		{"bad key", http.StatusBadRequest, common.ErrInvalidAPIKey},
		{"forbidden key", http.StatusForbidden, common.ErrInvalidAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			orig := keyCheckClient
			keyCheckClient = srv.Client()
			keyCheckClient.Transport = rewriteTransport{base: srv.Client().Transport, target: srv.URL}
			defer func() { keyCheckClient = orig }()

			err := ValidateKey(context.Background(), "some-key")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateKey_EmptyKey(t *testing.T) {
	assert.ErrorIs(t, ValidateKey(context.Background(), ""), common.ErrInvalidAPIKey)
}

// rewriteTransport redirects all requests to the test server.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.target, "http://")
	return t.base.RoundTrip(req)
}
