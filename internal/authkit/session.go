package authkit

import (
	"net/http"
	"time"

	"github.com/tyemirov/briefing/pkg/sessioncookie"
	"golang.org/x/oauth2"
)

// FlowState tracks one in-progress authorization-code flow.
type FlowState struct {
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Started   bool      `json:"started"`
}

// Credentials hold the token material granted to the session.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	TokenURL     string    `json:"token_url"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
}

// Token converts the credentials into an oauth2 token.
func (credentials *Credentials) Token() *oauth2.Token {
	if credentials == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  credentials.AccessToken,
		RefreshToken: credentials.RefreshToken,
		TokenType:    credentials.TokenType,
		Expiry:       credentials.Expiry,
	}
}

// OAuthConfig rebuilds the client configuration used to refresh the token.
func (credentials *Credentials) OAuthConfig() *oauth2.Config {
	if credentials == nil {
		return nil
	}
	return &oauth2.Config{
		ClientID:     credentials.ClientID,
		ClientSecret: credentials.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: credentials.TokenURL},
		Scopes:       credentials.Scopes,
	}
}

// UpdateToken copies refreshed token values into the credentials.
// It reports whether anything changed.
func (credentials *Credentials) UpdateToken(token *oauth2.Token) bool {
	if credentials == nil || token == nil || token.AccessToken == "" {
		return false
	}
	changed := token.AccessToken != credentials.AccessToken || !token.Expiry.Equal(credentials.Expiry)
	credentials.AccessToken = token.AccessToken
	credentials.Expiry = token.Expiry
	if token.TokenType != "" {
		credentials.TokenType = token.TokenType
	}
	if token.RefreshToken != "" && token.RefreshToken != credentials.RefreshToken {
		credentials.RefreshToken = token.RefreshToken
		changed = true
	}
	return changed
}

// Session is the browser-held state: at most one flow and one credential set.
type Session struct {
	Flow        *FlowState   `json:"flow,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Clear drops both the flow state and the credentials.
func (session *Session) Clear() {
	session.Flow = nil
	session.Credentials = nil
}

// Authenticated reports whether credentials are present.
func (session *Session) Authenticated() bool {
	return session != nil && session.Credentials != nil && session.Credentials.AccessToken != ""
}

// SessionStore loads and persists sessions for a request.
type SessionStore interface {
	Load(request *http.Request) *Session
	Save(writer http.ResponseWriter, session *Session) error
}

// CookieSessionStore keeps the whole session inside a sealed cookie.
type CookieSessionStore struct {
	codec         *sessioncookie.Codec
	configuration ServerConfig
}

// NewCookieSessionStore builds a cookie-backed SessionStore.
func NewCookieSessionStore(configuration ServerConfig) (*CookieSessionStore, error) {
	codec, err := sessioncookie.New(sessioncookie.Config{
		Secret:     configuration.SessionSecret,
		Issuer:     configuration.SessionIssuer,
		CookieName: configuration.SessionCookieName,
		TTL:        configuration.SessionTTL,
	})
	if err != nil {
		return nil, err
	}
	return &CookieSessionStore{codec: codec, configuration: configuration}, nil
}

// Load returns the request's session, or an empty one when the cookie is
// missing, expired, or tampered with.
func (store *CookieSessionStore) Load(request *http.Request) *Session {
	session := &Session{}
	if err := store.codec.DecodeRequest(request, session); err != nil {
		return &Session{}
	}
	return session
}

// Save writes the session cookie, or clears it when the session is empty.
func (store *CookieSessionStore) Save(writer http.ResponseWriter, session *Session) error {
	if session == nil || (session.Flow == nil && session.Credentials == nil) {
		clearCookie(writer, store.configuration, store.codec.CookieName())
		return nil
	}
	value, expiresAt, err := store.codec.Encode(session)
	if err != nil {
		return err
	}
	http.SetCookie(writer, &http.Cookie{
		Name:     store.codec.CookieName(),
		Value:    value,
		Path:     "/",
		Domain:   store.configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !store.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: store.configuration.SameSiteMode,
	})
	return nil
}

func clearCookie(writer http.ResponseWriter, configuration ServerConfig, name string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
