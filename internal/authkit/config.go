package authkit

import (
	"net/http"
	"time"
)

// ServerConfig configures the session cookie and the OAuth flow lifetime.
type ServerConfig struct {
	SessionSecret     []byte
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	FlowTTL           time.Duration
	CookieDomain      string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	PostLoginPath     string
}

// DefaultFlowTTL bounds the time between /login and /callback.
const DefaultFlowTTL = 10 * time.Minute

func (configuration ServerConfig) flowTTL() time.Duration {
	if configuration.FlowTTL <= 0 {
		return DefaultFlowTTL
	}
	return configuration.FlowTTL
}

func (configuration ServerConfig) postLoginPath() string {
	if configuration.PostLoginPath == "" {
		return "/briefing-ui"
	}
	return configuration.PostLoginPath
}
