package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
)

const (
	agent2Temperature   = 0.1
	agent2MaxTokens     = 1000
	snippetPromptLimit  = 1000
	agent2DefaultRisk   = string(models.RiskMedium)
	agent2FallbackCause = "Failed to analyze failure"
	agent2FallbackFix   = "Check the API logs for more details"
)

// FailureAnalysis is the structured verdict for one test failure.
type FailureAnalysis struct {
	RootCause     string `json:"root_cause"`
	RiskLevel     string `json:"risk_level"`
	FixSuggestion string `json:"fix_suggestion"`
}

// FailureAgent explains test failures: root cause, risk level and a fix
// suggestion. Failures of the agent itself degrade to a medium-risk
// placeholder verdict rather than an error, so one bad response does not
// abort a whole analysis batch.
type FailureAgent struct {
	gen    Generator
	model  string
	logger logging.Logger
}

func NewFailureAgent(gen Generator, model string, logger logging.Logger) *FailureAgent {
	return &FailureAgent{gen: gen, model: model, logger: logger.With("module", "agent2")}
}

func (a *FailureAgent) Analyze(ctx context.Context, failure *models.TestFailure) *FailureAnalysis {
	prompt := buildFailurePrompt(failure)

	text, err := a.gen.Generate(ctx, a.model, prompt, agent2Temperature, agent2MaxTokens)
	if err != nil {
		a.logger.Error(ctx, "failure analysis call failed", "error", err.Error())
		return &FailureAnalysis{
			RootCause:     "Analysis failed due to system error",
			RiskLevel:     agent2DefaultRisk,
			FixSuggestion: agent2FallbackFix,
		}
	}

	var result FailureAnalysis
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		a.logger.Error(ctx, "failure analysis returned invalid JSON", "error", err.Error())
		return &FailureAnalysis{
			RootCause:     agent2FallbackCause,
			RiskLevel:     agent2DefaultRisk,
			FixSuggestion: agent2FallbackFix,
		}
	}

	result.RiskLevel = strings.ToLower(result.RiskLevel)
	if !models.ValidRiskLevel(result.RiskLevel) {
		result.RiskLevel = agent2DefaultRisk
	}

	return &result
}

func buildFailurePrompt(f *models.TestFailure) string {
	payload := "{}"
	if f.RequestPayload != nil {
		if encoded, err := json.MarshalIndent(f.RequestPayload, "", "  "); err == nil {
			payload = string(encoded)
		}
	}

	statusCode := "Unknown"
	if f.StatusCode != nil {
		statusCode = fmt.Sprintf("%d", *f.StatusCode)
	}

	snippet := f.ResponseSnippet
	if snippet == "" {
		snippet = "No response"
	}
	if len(snippet) > snippetPromptLimit {
		snippet = snippet[:snippetPromptLimit]
	}

	return `You are Agent 2 in FlowGuard, an API failure analysis system.

TASK:
Analyze this API test failure and provide:
1. Root cause of the failure
2. Risk level (low, medium, high, critical)
3. Concrete fix suggestions

FAILURE DATA:
- Endpoint: ` + f.Endpoint + `
- Test Type: ` + f.TestType + `
- Status Code: ` + statusCode + `

REQUEST PAYLOAD:
` + payload + `

RESPONSE SNIPPET:
` + snippet + `

FAILURE REASON (from rule-based detection):
` + f.FailureReason + `

RULES:
- Be concise and technical
- Focus on backend/API issues
- Suggest actionable fixes
- Consider security implications
- Don't suggest UI/UX changes

RISK LEVEL GUIDE:
- LOW: minor issues, no security impact
- MEDIUM: functional bugs affecting specific features
- HIGH: security vulnerabilities or data integrity issues
- CRITICAL: system crashes, data loss, severe security breaches

EXPECTED OUTPUT FORMAT (JSON ONLY):
{
  "root_cause": "Clear explanation of what caused the failure",
  "risk_level": "low/medium/high/critical",
  "fix_suggestion": "Concrete steps to fix the issue"
}

IMPORTANT:
- Return ONLY valid JSON
- No explanations, no markdown, no code blocks
- Risk level must be one of: low, medium, high, critical
`
}
