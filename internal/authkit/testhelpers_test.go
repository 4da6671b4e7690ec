package authkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type controllableClock struct {
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.current = clock.current.Add(duration)
}

type tokenEndpoint struct {
	server   *httptest.Server
	requests atomic.Int64
	status   int
	payload  map[string]any
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	endpoint := &tokenEndpoint{
		status: http.StatusOK,
		payload: map[string]any{
			"access_token":  "access-token-1",
			"refresh_token": "refresh-token-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "https://www.googleapis.com/auth/gmail.readonly",
		},
	}
	endpoint.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		endpoint.requests.Add(1)
		if err := request.ParseForm(); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(endpoint.status)
		_ = json.NewEncoder(writer).Encode(endpoint.payload)
	}))
	t.Cleanup(endpoint.server.Close)
	return endpoint
}

func (endpoint *tokenEndpoint) fail(status int, errorCode string, description string) {
	endpoint.status = status
	endpoint.payload = map[string]any{
		"error":             errorCode,
		"error_description": description,
	}
}

func newTestOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		Scopes:       GoogleScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		SessionSecret:     []byte("secret-key-1234567890"),
		SessionIssuer:     "briefing-test",
		SessionCookieName: "briefing_session",
		SessionTTL:        time.Hour,
		FlowTTL:           10 * time.Minute,
		SameSiteMode:      http.SameSiteLaxMode,
		AllowInsecureHTTP: true,
	}
}
