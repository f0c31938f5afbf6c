// Package config loads the gateway's environment-driven configuration
// surface (spec §6 "Configuration surface"). Variable names are preserved
// exactly as specified, unprefixed, for compatibility with existing
// deployments.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the fully-resolved gateway configuration.
type Config struct {
	ProxyAPIKey   string `koanf:"proxy_api_key"`
	Port          int    `koanf:"port"`
	RefreshToken  string `koanf:"refresh_token"`
	ProfileArn    string `koanf:"profile_arn"`
	KiroRegion    string `koanf:"kiro_region"`
	KiroCredsFile string `koanf:"kiro_creds_file"`

	TokenRefreshThreshold      int     `koanf:"token_refresh_threshold"` // seconds
	MaxRetries                 int     `koanf:"max_retries"`
	BaseRetryDelay             int     `koanf:"base_retry_delay"` // seconds
	FirstTokenTimeout          int     `koanf:"first_token_timeout"` // seconds
	FirstTokenMaxRetries       int     `koanf:"first_token_max_retries"`
	StreamReadTimeout          int     `koanf:"stream_read_timeout"` // seconds
	NonStreamTimeout           int     `koanf:"non_stream_timeout"`  // seconds
	SlowModelTimeoutMultiplier float64 `koanf:"slow_model_timeout_multiplier"`
	ToolDescriptionMaxLength   int     `koanf:"tool_description_max_length"`
	ModelCacheTTL              int     `koanf:"model_cache_ttl"` // seconds
	DefaultMaxInputTokens      int     `koanf:"default_max_input_tokens"`
	RateLimitPerMinute         int     `koanf:"rate_limit_per_minute"` // 0 = off
	LogLevel                   string  `koanf:"log_level"`
}

// defaults are the values Load starts from, so it returns a fully-populated
// Config. Most equal the fallbacks upstream.ClientOptions applies to a zero
// value; token_refresh_threshold does not: credential.New falls back to 30s
// for a zero threshold, while the default here is 300 (seconds).
func defaults() map[string]any {
	return map[string]any{
		"port":                           8080,
		"kiro_region":                    "us-east-1",
		"token_refresh_threshold":        300,
		"max_retries":                    3,
		"base_retry_delay":               1,
		"first_token_timeout":            120,
		"first_token_max_retries":        3,
		"stream_read_timeout":            30,
		"non_stream_timeout":             900,
		"slow_model_timeout_multiplier":  3.0,
		"tool_description_max_length":    10000,
		"model_cache_ttl":                3600,
		"default_max_input_tokens":       200000,
		"rate_limit_per_minute":          0,
		"log_level":                      "info",
	}
}

// Load reads the gateway configuration. Defaults are applied first, then an
// optional config.yaml in the working directory, then the process
// environment (highest priority) — env var names are matched verbatim, with
// no prefix stripping, per spec §6.
func Load() (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		k.Set(key, val)
	}

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
