// Package config handles configuration for the FlowGuard CLI,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the FlowGuard CLI.
//
// Fields:
//   - ServerURL: base URL of the FlowGuard REST backend.
//   - TokenFile: path of the file the bearer token is persisted in.
//   - RequestTimeout: per-request deadline for API calls.
type Config struct {
	ServerURL      string
	TokenFile      string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8000"
	c.TokenFile = ".flowguard_token"
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
