// Package api is the FlowGuard CLI's HTTP client: JSON requests with a
// bearer token, multipart schema upload, and mapping of backend error
// bodies to client-side errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/flowguard/flowguard/internal/openapi"
)

var (
	// ErrUnavailable covers network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("server unavailable")
	// ErrUnauthorized covers 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadFileType is returned before any network call for files with an
	// extension the backend would reject anyway.
	ErrBadFileType = errors.New("unsupported file type, expected .json, .yaml or .yml")
)

// APIError carries the backend's detail message for a non-2xx response
// that is neither an auth failure nor a server-side outage.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Profile is the authenticated user as returned by /auth/me.
type Profile struct {
	UserID       int64     `json:"user_id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	HasGeminiKey bool      `json:"has_gemini_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// SchemaSummary is one row of /api/schemas/my-schemas.
type SchemaSummary struct {
	SchemaID         int64     `json:"schema_id"`
	BaseURL          string    `json:"base_url"`
	OriginalFilename string    `json:"original_filename"`
	SchemaHash       string    `json:"schema_hash"`
	TotalEndpoints   int       `json:"total_endpoints"`
	TotalTestCases   int       `json:"total_test_cases"`
	CreatedAt        time.Time `json:"created_at"`
}

// UploadResult is the backend's answer to a schema upload.
type UploadResult struct {
	UploadID string `json:"upload_id"`
	Message  string `json:"message"`
	Status   string `json:"status"`
	SchemaID int64  `json:"schema_id"`
}

// RunResult summarizes one test-run execution.
type RunResult struct {
	RunID          int64    `json:"run_id"`
	SchemaID       int64    `json:"schema_id"`
	TotalTests     int      `json:"total_tests"`
	Passed         int      `json:"passed"`
	Failed         int      `json:"failed"`
	Errors         int      `json:"errors"`
	StabilityScore *float64 `json:"stability_score"`
	Message        string   `json:"message"`
	HasFailures    bool     `json:"has_failures"`
}

// FlowResult is the answer to the complete test flow: run id plus the
// final report as returned by the backend.
type FlowResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	RunID   int64           `json:"run_id"`
	Report  json.RawMessage `json:"report"`
}

// Client defines the backend operations the CLI needs.
//
// All methods honor context cancellation. Token-taking methods attach it
// as a bearer Authorization header.
type Client interface {
	Signup(ctx context.Context, fullName, email, password, apiKey string) error
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, token string) (*Profile, error)
	UpdateAPIKey(ctx context.Context, token, apiKey string) error
	MySchemas(ctx context.Context, token string) ([]SchemaSummary, error)
	UploadSchema(ctx context.Context, token, baseURL, filename string, content []byte) (*UploadResult, error)
	RunTests(ctx context.Context, token string, schemaID int64) (*RunResult, error)
	CompleteTestFlow(ctx context.Context, token string, schemaID int64) (*FlowResult, error)
	FinalReport(ctx context.Context, token string, runID int64) (json.RawMessage, error)
}

// HTTPClient is the Client implementation over net/http.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("request encoding error: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, token, out)
}

func (c *HTTPClient) do(req *http.Request, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mapError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("response decoding error: %w", err)
	}
	return nil
}

// mapError turns a non-2xx response into a client error: auth statuses map
// to ErrUnauthorized, 5xx to ErrUnavailable, everything else carries the
// backend's detail message.
func mapError(resp *http.Response) error {
	detail := extractDetail(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if detail != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		}
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return ErrUnavailable
	default:
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}
}

// extractDetail pulls the conventional {"detail": ...} message out of an
// error body. Non-string details (e.g. schema rejection objects) are
// re-rendered as compact JSON.
func extractDetail(body io.Reader) string {
	var parsed struct {
		Detail any `json:"detail"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return ""
	}
	switch d := parsed.Detail.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		encoded, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func (c *HTTPClient) Signup(ctx context.Context, fullName, email, password, apiKey string) error {
	body := map[string]string{
		"full_name":      fullName,
		"email":          email,
		"password":       password,
		"gemini_api_key": apiKey,
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/signup/", "", body, nil)
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("empty access token in response")
	}
	return resp.AccessToken, nil
}

func (c *HTTPClient) Me(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *HTTPClient) UpdateAPIKey(ctx context.Context, token, apiKey string) error {
	body := map[string]string{"gemini_api_key": apiKey}
	return c.doJSON(ctx, http.MethodPut, "/auth/update-api-key", token, body, nil)
}

func (c *HTTPClient) MySchemas(ctx context.Context, token string) ([]SchemaSummary, error) {
	var list []SchemaSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/schemas/my-schemas", token, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UploadSchema sends the schema as a multipart form. Files with an
// unsupported extension are rejected locally, before any network call.
func (c *HTTPClient) UploadSchema(ctx context.Context, token, baseURL, filename string, content []byte) (*UploadResult, error) {
	if !openapi.AllowedExtension(filename) {
		return nil, ErrBadFileType
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("base_url", baseURL); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("schema_file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/schemas/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result UploadResult
	if err := c.do(req, token, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) RunTests(ctx context.Context, token string, schemaID int64) (*RunResult, error) {
	var result RunResult
	path := fmt.Sprintf("/api/schemas/%d/run-tests", schemaID)
	if err := c.doJSON(ctx, http.MethodPost, path, token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) CompleteTestFlow(ctx context.Context, token string, schemaID int64) (*FlowResult, error) {
	var result FlowResult
	path := fmt.Sprintf("/api/schemas/%d/complete-test-flow", schemaID)
	if err := c.doJSON(ctx, http.MethodPost, path, token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) FinalReport(ctx context.Context, token string, runID int64) (json.RawMessage, error) {
	var report json.RawMessage
	path := fmt.Sprintf("/api/schemas/test-runs/%d/final-report", runID)
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}
