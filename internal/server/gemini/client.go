// Package gemini talks to the Google Gemini API: a thin text-generation
// client plus the two analysis agents built on top of it.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"google.golang.org/genai"
)

// Generator produces a single text completion. Satisfied by Client and by
// test fakes.
type Generator interface {
	Generate(ctx context.Context, model string, prompt string, temperature float32, maxTokens int32) (string, error)
}

// Client wraps the genai SDK for one API key.
type Client struct {
	client *genai.Client
}

func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: client}, nil
}

func (c *Client) Generate(ctx context.Context, model string, prompt string, temperature float32, maxTokens int32) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx,
		model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(temperature),
			MaxOutputTokens: maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}

	return text, nil
}

const modelsEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// keyCheckClient is a seam for testing ValidateKey.
var keyCheckClient = &http.Client{Timeout: 10 * time.Second}

// ValidateKey probes the models listing endpoint with the key. A 2xx means
// the key is live; 400 or 403 means it is not a working Gemini key.
func ValidateKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return common.ErrInvalidAPIKey
	}

	u := modelsEndpoint + "?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build key check request: %w", err)
	}

	resp, err := keyCheckClient.Do(req)
	if err != nil {
		return fmt.Errorf("key check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusUnauthorized {
		return common.ErrInvalidAPIKey
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("key check returned unexpected status %d", resp.StatusCode)
	}

	return nil
}

// stripFences removes a leading ```json or ``` fence and a trailing ```
// that models sometimes wrap around JSON-only output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-len("```")]
	}
	return strings.TrimSpace(s)
}
