package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/models"
)

const (
	agent1Temperature = 0.1
	agent1MaxTokens   = 4000
)

// SchemaAgent normalizes an uploaded OpenAPI document and generates
// failure-oriented test cases for it. Output is strictly JSON; anything
// the model cannot ground in the document must be rejected, not invented.
type SchemaAgent struct {
	gen    Generator
	model  string
	logger logging.Logger
}

func NewSchemaAgent(gen Generator, model string, logger logging.Logger) *SchemaAgent {
	return &SchemaAgent{gen: gen, model: model, logger: logger.With("module", "agent1")}
}

func (a *SchemaAgent) Analyze(ctx context.Context, rawSchema map[string]any, baseURL string) *models.AgentAnalysis {
	prompt, err := buildSchemaPrompt(rawSchema, baseURL)
	if err != nil {
		return rejectAnalysis(fmt.Sprintf("failed to encode schema: %v", err))
	}

	a.logger.Info(ctx, "calling schema analysis agent", "model", a.model)

	text, err := a.gen.Generate(ctx, a.model, prompt, agent1Temperature, agent1MaxTokens)
	if err != nil {
		a.logger.Error(ctx, "schema analysis call failed", "error", err.Error())
		return rejectAnalysis(fmt.Sprintf("AI processing failed: %v", err))
	}

	var analysis models.AgentAnalysis
	if err := json.Unmarshal([]byte(stripFences(text)), &analysis); err != nil {
		a.logger.Error(ctx, "schema analysis returned invalid JSON", "error", err.Error())
		return rejectAnalysis(fmt.Sprintf("AI returned invalid JSON: %v", err))
	}

	return &analysis
}

func rejectAnalysis(reason string) *models.AgentAnalysis {
	return &models.AgentAnalysis{Status: "reject", Errors: []string{reason}}
}

func buildSchemaPrompt(rawSchema map[string]any, baseURL string) (string, error) {
	encoded, err := json.MarshalIndent(rawSchema, "", "  ")
	if err != nil {
		return "", err
	}

	prompt := `You are Agent 1 in FlowGuard, an API testing system.

TASK:
1. Analyze this OpenAPI schema
2. Normalize non-critical information (field names, types, descriptions)
3. Validate that CRITICAL information exists
4. Generate failure-oriented test cases

RULES (STRICT, DO NOT VIOLATE):
- DO NOT invent endpoints
- DO NOT guess HTTP methods
- DO NOT guess base URL (use: ` + baseURL + `)
- DO NOT hallucinate authentication
- Infer ONLY non-critical information

CRITICAL INFORMATION (MUST EXIST or REJECT):
- Endpoint path (e.g., /users)
- HTTP method (GET, POST, etc.)
- Request body schema (for POST/PUT)
- Response schemas
- Base URL: ` + baseURL + ` (provided by user)

INPUT SCHEMA:
` + string(encoded) + `

EXPECTED OUTPUT FORMAT (JSON ONLY):
{
  "status": "ok",
  "normalized_schema": [
    {"endpoint": "/users", "method": "GET", "request_body": {}, "response_schema": {}, "parameters": []}
  ],
  "test_cases": [
    {"endpoint": "/users", "method": "GET", "test_type": "missing_field", "payload": {}, "expected_failure": true}
  ],
  "errors": []
}

IMPORTANT:
- Return ONLY valid JSON
- No explanations, no markdown, no code blocks
- If schema is invalid, set status to "reject" and list errors

REJECT IF:
- Missing endpoint paths
- Missing HTTP methods
- Missing request body for POST/PUT methods
- Schema is incomplete or malformed

GENERATE TEST CASES FOR THESE FAILURE TYPES:
1. missing_field - omit required fields
2. wrong_type - send wrong data types
3. boundary_values - test min/max boundaries
4. malformed_json - send invalid JSON
5. sql_injection - attempt SQL injection
6. xss - attempt cross-site scripting
7. rate_limit - send too many requests
8. auth_bypass - try to access without auth
`

	return prompt, nil
}
