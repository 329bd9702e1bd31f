package http

import (
	"encoding/base64"
	"net/http"
)

// =============================================================================
// AUTHENTICATION STRATEGIES
// =============================================================================

// AuthConfig represents authentication configuration.
type AuthConfig interface {
	Apply(req *http.Request)
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
// Socrata API key pairs (api_key_id / api_key_secret) authenticate this way.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds Basic auth header to the request.
func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// AppToken uses Socrata application token authentication.
// The token is not a credential; it raises per-client rate limits.
type AppToken struct {
	Token string
}

// Apply adds the X-App-Token header to the request.
func (a AppToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("X-App-Token", a.Token)
}

// ChainAuth applies multiple auth strategies in order.
// Used when basic-auth credentials and an app token are both configured.
type ChainAuth []AuthConfig

// Apply applies each strategy in order.
func (c ChainAuth) Apply(req *http.Request) {
	for _, a := range c {
		if a != nil {
			a.Apply(req)
		}
	}
}
