// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the full environment surface of the gateway. Defaults are
// supplied via envdecode struct tags.
type Config struct {
	// Port is the HTTP listen port. ENV: PORT
	Port int `env:"PORT,default=8787"`
	// APIKey is the shared secret checked on authenticated routes. Empty
	// disables authentication. ENV: MCP_GATEWAY_API_KEY
	APIKey string `env:"MCP_GATEWAY_API_KEY"`
	// UpstreamURLs is a comma-separated list of upstream backend URLs.
	// ENV: UPSTREAM_URLS
	UpstreamURLs string `env:"UPSTREAM_URLS"`
	// UpstreamConfigPath points at an optional JSON file of upstream servers.
	// ENV: UPSTREAM_CONFIG
	UpstreamConfigPath string `env:"UPSTREAM_CONFIG,default=upstreams.json"`
	// RedisAddr selects the Redis document store backend when set, like
	// "localhost:6379". Empty keeps documents in process memory.
	// ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load populates a Config from the environment. The shared secret is trimmed
// so stray whitespace in deployment manifests cannot break comparisons.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &cfg, nil
}
