// Package config provides environment-driven configuration for the sync CLI.
package config

import (
	"os"
	"strconv"
	"strings"
)

// SyncConfig holds everything a sync run needs: source credentials, sink
// parameters, and bookmark store settings.
type SyncConfig struct {
	// Source settings
	Domains           []string
	APIKeyID          string
	APIKeySecret      string
	AppToken          string
	UserAgent         string
	PageLimit         int
	DiscoveryPageSize int

	// Sink settings
	SinkEndpointURL string
	SinkAccessKey   string
	SinkSecretKey   string
	SinkBucket      string
	SinkBasePrefix  string
	SinkTenantID    string

	// Bookmark store; empty means in-memory (single-run) state.
	StateDSN string

	// Run settings
	BatchSize       int
	StagingProvider string
	StagingDir      string
}

// Load reads configuration from SOCRATA_* environment variables.
func Load() *SyncConfig {
	return &SyncConfig{
		Domains:           splitList(getEnv("SOCRATA_DOMAINS", "")),
		APIKeyID:          getEnv("SOCRATA_API_KEY_ID", ""),
		APIKeySecret:      getEnv("SOCRATA_API_KEY_SECRET", ""),
		AppToken:          getEnv("SOCRATA_APP_TOKEN", ""),
		UserAgent:         getEnv("SOCRATA_USER_AGENT", ""),
		PageLimit:         getEnvInt("SOCRATA_PAGE_LIMIT", 0),
		DiscoveryPageSize: getEnvInt("SOCRATA_DISCOVERY_PAGE_SIZE", 0),

		SinkEndpointURL: getEnv("SOCRATA_SINK_ENDPOINT", ""),
		SinkAccessKey:   getEnv("SOCRATA_SINK_ACCESS_KEY", ""),
		SinkSecretKey:   getEnv("SOCRATA_SINK_SECRET_KEY", ""),
		SinkBucket:      getEnv("SOCRATA_SINK_BUCKET", ""),
		SinkBasePrefix:  getEnv("SOCRATA_SINK_PREFIX", ""),
		SinkTenantID:    getEnv("SOCRATA_SINK_TENANT", ""),

		StateDSN: getEnv("SOCRATA_STATE_DSN", ""),

		BatchSize:       getEnvInt("SOCRATA_BATCH_SIZE", 0),
		StagingProvider: getEnv("SOCRATA_STAGING_PROVIDER", ""),
		StagingDir:      getEnv("SOCRATA_STAGING_DIR", ""),
	}
}

// SourceParams converts source settings to connector factory parameters.
func (c *SyncConfig) SourceParams() map[string]any {
	params := map[string]any{
		"domains": c.Domains,
	}
	if c.APIKeyID != "" {
		params["apiKeyId"] = c.APIKeyID
	}
	if c.APIKeySecret != "" {
		params["apiKeySecret"] = c.APIKeySecret
	}
	if c.AppToken != "" {
		params["appToken"] = c.AppToken
	}
	if c.UserAgent != "" {
		params["userAgent"] = c.UserAgent
	}
	if c.PageLimit > 0 {
		params["pageLimit"] = c.PageLimit
	}
	if c.DiscoveryPageSize > 0 {
		params["discoveryPageSize"] = c.DiscoveryPageSize
	}
	return params
}

// SinkParams converts sink settings to connector factory parameters.
func (c *SyncConfig) SinkParams() map[string]any {
	params := map[string]any{}
	if c.SinkEndpointURL != "" {
		params["endpointUrl"] = c.SinkEndpointURL
	}
	if c.SinkAccessKey != "" {
		params["accessKeyId"] = c.SinkAccessKey
	}
	if c.SinkSecretKey != "" {
		params["secretAccessKey"] = c.SinkSecretKey
	}
	if c.SinkBucket != "" {
		params["bucket"] = c.SinkBucket
	}
	if c.SinkBasePrefix != "" {
		params["basePrefix"] = c.SinkBasePrefix
	}
	if c.SinkTenantID != "" {
		params["tenantId"] = c.SinkTenantID
	}
	return params
}

// SplitStreams parses a comma-separated stream list from a CLI flag.
func SplitStreams(raw string) []string {
	return splitList(raw)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
