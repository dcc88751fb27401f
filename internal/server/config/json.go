package config

import (
	"encoding/json"
	"os"

	"github.com/flowguard/flowguard/internal/flagx"
	"github.com/flowguard/flowguard/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "10s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	APIKeySealSecret            string         `json:"api_key_seal_secret"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	TestTimeout                 timex.Duration `json:"test_timeout"`
	TestMaxConcurrent           int            `json:"test_max_concurrent"`
	GeminiFlashModel            string         `json:"gemini_flash_model"`
	GeminiLiteModel             string         `json:"gemini_lite_model"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
}

// parseJson overlays Config with values loaded from a JSON file resolved
// via the -c/-config flags. If no file is given, nothing happens.
// Read or unmarshal errors panic, matching the flags stage.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.EndpointAddrHTTP = jc.EndpointAddrHTTP
	cfg.DatabaseDSN = jc.DatabaseDSN
	cfg.SecretKey = jc.SecretKey
	cfg.APIKeySealSecret = jc.APIKeySealSecret
	cfg.AccessTokenValidityDuration = jc.AccessTokenValidityDuration.Duration
	cfg.TestTimeout = jc.TestTimeout.Duration
	cfg.TestMaxConcurrent = jc.TestMaxConcurrent
	cfg.GeminiFlashModel = jc.GeminiFlashModel
	cfg.GeminiLiteModel = jc.GeminiLiteModel
	cfg.S3RootUser = jc.S3RootUser
	cfg.S3RootPassword = jc.S3RootPassword
	cfg.S3Bucket = jc.S3Bucket
	cfg.S3Region = jc.S3Region
	cfg.S3BaseEndpoint = jc.S3BaseEndpoint
}
