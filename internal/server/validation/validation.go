// Package validation is the deterministic check layer between the schema
// analysis agent and the database. No AI here: every rule is a plain
// structural check, so a hallucinating model cannot smuggle bad data past it.
package validation

import (
	"fmt"
	"strings"

	"github.com/flowguard/flowguard/internal/server/models"
)

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

var testTypes = map[string]bool{
	"missing_field": true, "wrong_type": true, "boundary_values": true,
	"malformed_json": true, "sql_injection": true, "xss": true,
	"rate_limit": true, "auth_bypass": true, "timeout": true, "invalid_auth": true,
}

// methodNeedsBody lists methods whose endpoints must declare a request body
// in the normalized schema, even an empty one.
var methodNeedsBody = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// ValidateAnalysis checks an agent's output before it is saved. Methods are
// normalized to upper case in place. Returns all violations found, not just
// the first.
func ValidateAnalysis(a *models.AgentAnalysis) []string {
	var errs []string

	if a.Status == "reject" {
		if len(a.Errors) > 0 {
			return a.Errors
		}
		return []string{"schema rejected by AI"}
	}
	if a.Status != "ok" {
		errs = append(errs, fmt.Sprintf("invalid status: %q, expected \"ok\"", a.Status))
	}

	if len(a.NormalizedSchema) == 0 {
		errs = append(errs, "normalized_schema cannot be empty")
	}
	for i := range a.NormalizedSchema {
		ep := &a.NormalizedSchema[i]

		if ep.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("endpoint at index %d missing path", i))
		} else if !strings.HasPrefix(ep.Endpoint, "/") {
			errs = append(errs, fmt.Sprintf("endpoint path must start with '/': %s", ep.Endpoint))
		}

		if ep.Method == "" {
			errs = append(errs, fmt.Sprintf("endpoint at index %d missing method", i))
		} else {
			ep.Method = strings.ToUpper(ep.Method)
			if !httpMethods[ep.Method] {
				errs = append(errs, fmt.Sprintf("invalid HTTP method at index %d: %s", i, ep.Method))
			}
		}

		if methodNeedsBody[ep.Method] && ep.RequestBody == nil {
			errs = append(errs, fmt.Sprintf("endpoint %s (%s) missing request_body", ep.Endpoint, ep.Method))
		}
	}

	if len(a.TestCases) == 0 {
		errs = append(errs, "test_cases cannot be empty")
	}
	for i := range a.TestCases {
		tc := &a.TestCases[i]

		if tc.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("test case at index %d missing endpoint", i))
		}
		if tc.TestType == "" {
			errs = append(errs, fmt.Sprintf("test case at index %d missing test_type", i))
		} else if !testTypes[tc.TestType] {
			errs = append(errs, fmt.Sprintf("invalid test_type at index %d: %s", i, tc.TestType))
		}

		if tc.Method == "" {
			errs = append(errs, fmt.Sprintf("test case at index %d missing method", i))
		} else {
			tc.Method = strings.ToUpper(tc.Method)
			if !httpMethods[tc.Method] {
				errs = append(errs, fmt.Sprintf("invalid HTTP method in test case %d: %s", i, tc.Method))
			}
		}
	}

	// Test cases may only target endpoints the schema actually declares.
	if len(a.NormalizedSchema) > 0 && len(a.TestCases) > 0 {
		known := make(map[string]bool, len(a.NormalizedSchema))
		for _, ep := range a.NormalizedSchema {
			known[ep.Endpoint] = true
		}
		for i, tc := range a.TestCases {
			if tc.Endpoint != "" && !known[tc.Endpoint] {
				errs = append(errs, fmt.Sprintf("test case %d references non-existent endpoint: %s", i, tc.Endpoint))
			}
		}
	}

	return errs
}
