package socrata

import (
	"strings"

	"github.com/nucleus/socrata-core/internal/endpoint"
)

// init registers the Socrata factory with the global registry.
func init() {
	endpoint.Register("http.socrata", func(config map[string]any) (endpoint.Endpoint, error) {
		return New(ParseConfig(config))
	})
}

// ParseConfig builds a Config from loose parameters. Both camelCase and the
// snake_case names used by catalog tooling are accepted.
func ParseConfig(params map[string]any) *Config {
	return &Config{
		Domains:           stringSlice(params, "domains"),
		APIKeyID:          firstString(params, "apiKeyId", "api_key_id"),
		APIKeySecret:      firstString(params, "apiKeySecret", "api_key_secret"),
		AppToken:          firstString(params, "appToken", "app_token"),
		SecretToken:       firstString(params, "secretToken", "secret_token"),
		UserAgent:         firstString(params, "userAgent", "user_agent"),
		PageLimit:         firstInt(params, "pageLimit", "page_limit"),
		DiscoveryPageSize: firstInt(params, "discoveryPageSize", "discovery_page_size"),
	}
}

// --- Config Helpers ---

func stringSlice(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := m[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
