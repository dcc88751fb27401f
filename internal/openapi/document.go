// Package openapi handles the schema documents users upload: extension
// pre-filtering, JSON/YAML parsing, and the canonical hash used to dedup
// uploads.
package openapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, use .json, .yaml or .yml")
	ErrEmptyDocument     = errors.New("schema file is empty")
	ErrNotAnObject       = errors.New("schema must be a JSON object")
)

// AllowedExtension reports whether filename has one of the accepted schema
// extensions. This is the cheap local pre-filter; full validation stays a
// backend concern.
func AllowedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Parse decodes the uploaded document according to its file extension.
// The result is always a string-keyed object; scalar or array documents
// are rejected.
func Parse(content []byte, filename string) (map[string]any, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	name := strings.ToLower(filename)
	var doc map[string]any

	switch {
	case strings.HasSuffix(name, ".json"):
		if err := json.Unmarshal(content, &doc); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, ErrNotAnObject
			}
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	if len(doc) == 0 {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// Hash returns the canonical SHA-256 of the parsed schema plus base URL.
// encoding/json sorts object keys, so the same document always hashes the
// same regardless of source formatting. Used to skip repeat AI processing.
func Hash(doc map[string]any, baseURL string) (string, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(canonical, []byte(baseURL)...))
	return hex.EncodeToString(sum[:]), nil
}

// ValidBaseURL reports whether s looks like an absolute http(s) URL.
func ValidBaseURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
