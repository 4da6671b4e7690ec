package authkit

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type gatewayFixture struct {
	gateway  *Gateway
	endpoint *tokenEndpoint
	codes    *MemoryCodeStore
	clock    *controllableClock
	metrics  *CounterMetrics
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	clock := &controllableClock{current: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	metrics := NewCounterMetrics()
	ProvideClock(clock)
	ProvideMetrics(metrics)
	ProvideLogger(zaptest.NewLogger(t))
	t.Cleanup(func() {
		ProvideClock(nil)
		ProvideMetrics(nil)
		ProvideLogger(nil)
	})

	endpoint := newTokenEndpoint(t)
	codes := NewMemoryCodeStore(10 * time.Minute)
	gateway, err := NewGateway(newTestOAuthConfig(endpoint.server.URL), codes, newTestServerConfig())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return &gatewayFixture{gateway: gateway, endpoint: endpoint, codes: codes, clock: clock, metrics: metrics}
}

func (fixture *gatewayFixture) startedSession(t *testing.T) *Session {
	t.Helper()
	session := &Session{}
	if _, err := fixture.gateway.BeginLogin(context.Background(), session); err != nil {
		t.Fatalf("begin login: %v", err)
	}
	return session
}

func TestBeginLoginBuildsAuthorizationURL(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := &Session{Credentials: &Credentials{AccessToken: "stale"}}

	authURL, err := fixture.gateway.BeginLogin(context.Background(), session)
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if session.Credentials != nil {
		t.Fatalf("expected prior credentials to be cleared")
	}
	if session.Flow == nil || !session.Flow.Started || session.Flow.State == "" {
		t.Fatalf("expected started flow state, got %+v", session.Flow)
	}
	if !session.Flow.StartedAt.Equal(fixture.clock.current) {
		t.Fatalf("expected flow start %v, got %v", fixture.clock.current, session.Flow.StartedAt)
	}

	parsed, parseErr := url.Parse(authURL)
	if parseErr != nil {
		t.Fatalf("parse auth url: %v", parseErr)
	}
	query := parsed.Query()
	expectations := map[string]string{
		"state":                  session.Flow.State,
		"access_type":            "offline",
		"prompt":                 "consent",
		"include_granted_scopes": "true",
		"client_id":              "client-id",
		"scope":                  "https://www.googleapis.com/auth/gmail.readonly https://www.googleapis.com/auth/calendar.readonly",
	}
	for key, expected := range expectations {
		if actual := query.Get(key); actual != expected {
			t.Fatalf("expected %s=%q, got %q", key, expected, actual)
		}
	}
	if fixture.metrics.Count(metricLoginStart) != 1 {
		t.Fatalf("expected login start metric")
	}
}

func TestBeginLoginIssuesFreshStateEachTime(t *testing.T) {
	fixture := newGatewayFixture(t)
	first := fixture.startedSession(t)
	second := fixture.startedSession(t)
	if first.Flow.State == second.Flow.State {
		t.Fatalf("expected distinct state tokens")
	}
}

func TestHandleCallbackWithoutFlowState(t *testing.T) {
	fixture := newGatewayFixture(t)

	testCases := []struct {
		name    string
		session *Session
		params  CallbackParams
	}{
		{name: "empty session", session: &Session{}, params: CallbackParams{}},
		{name: "code and state", session: &Session{}, params: CallbackParams{State: "s", Code: "c"}},
		{name: "provider error", session: &Session{}, params: CallbackParams{Error: "access_denied"}},
		{name: "flag missing", session: &Session{Flow: &FlowState{State: "s", StartedAt: fixture.clock.current}}, params: CallbackParams{State: "s", Code: "c"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := fixture.gateway.HandleCallback(context.Background(), testCase.session, testCase.params)
			if !errors.Is(err, ErrInvalidFlowState) {
				t.Fatalf("expected ErrInvalidFlowState, got %v", err)
			}
		})
	}
	if fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected no token exchange")
	}
}

func TestHandleCallbackExpiredFlowClearsSession(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)
	state := session.Flow.State

	fixture.clock.Advance(600*time.Second + time.Second)
	err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: state, Code: "code-1"})
	if !errors.Is(err, ErrFlowExpired) {
		t.Fatalf("expected ErrFlowExpired, got %v", err)
	}
	if session.Flow != nil || session.Credentials != nil {
		t.Fatalf("expected session cleared, got %+v", session)
	}
	if fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected no token exchange")
	}
}

func TestHandleCallbackAcceptsFlowAtExactLimit(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)

	fixture.clock.Advance(600 * time.Second)
	if err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-limit"}); err != nil {
		t.Fatalf("expected callback at the limit to succeed, got %v", err)
	}
}

func TestHandleCallbackStateMismatchLeavesSession(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)
	original := *session.Flow

	err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: "forged", Code: "code-1"})
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if session.Flow == nil || *session.Flow != original {
		t.Fatalf("expected flow untouched, got %+v", session.Flow)
	}
	if session.Credentials != nil {
		t.Fatalf("expected no credentials")
	}
	if fixture.codes.Len() != 0 {
		t.Fatalf("expected code not claimed")
	}
}

func TestHandleCallbackProviderErrorSkipsExchange(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)

	err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{
		State:            session.Flow.State,
		Code:             "code-denied",
		Error:            "access_denied",
		ErrorDescription: "User denied access",
	})
	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !errors.Is(err, ErrIdentityProvider) {
		t.Fatalf("expected ErrIdentityProvider in chain")
	}
	if providerError.Code != "access_denied" || providerError.Description != "User denied access" {
		t.Fatalf("unexpected provider error %+v", providerError)
	}
	if fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected exchange never attempted")
	}
	if session.Flow != nil {
		t.Fatalf("expected flow cleared")
	}
	if claimErr := fixture.codes.Claim(context.Background(), "code-denied"); claimErr != nil {
		t.Fatalf("expected code released, got %v", claimErr)
	}
}

func TestHandleCallbackProviderErrorDefaultsDescription(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)

	err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Error: "access_denied"})
	var providerError *ProviderError
	if !errors.As(err, &providerError) || providerError.Description != "Unknown error" {
		t.Fatalf("expected default description, got %v", err)
	}
}

func TestHandleCallbackSuccessStoresCredentials(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)

	if err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-ok"}); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if session.Flow != nil {
		t.Fatalf("expected flow cleared after success")
	}
	credentials := session.Credentials
	if credentials == nil {
		t.Fatalf("expected credentials")
	}
	if credentials.AccessToken != "access-token-1" || credentials.RefreshToken != "refresh-token-1" {
		t.Fatalf("unexpected tokens %+v", credentials)
	}
	if credentials.ClientID != "client-id" || credentials.ClientSecret != "client-secret" {
		t.Fatalf("unexpected client binding %+v", credentials)
	}
	if credentials.TokenURL != fixture.endpoint.server.URL {
		t.Fatalf("unexpected token url %q", credentials.TokenURL)
	}
	if len(credentials.Scopes) != 1 || credentials.Scopes[0] != "https://www.googleapis.com/auth/gmail.readonly" {
		t.Fatalf("expected granted scopes accepted as-is, got %v", credentials.Scopes)
	}
	if fixture.metrics.Count(metricCallbackSuccess) != 1 {
		t.Fatalf("expected success metric")
	}
}

func TestHandleCallbackFallsBackToRequestedScopes(t *testing.T) {
	fixture := newGatewayFixture(t)
	delete(fixture.endpoint.payload, "scope")
	session := fixture.startedSession(t)

	if err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-noscope"}); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if len(session.Credentials.Scopes) != len(GoogleScopes) {
		t.Fatalf("expected requested scopes, got %v", session.Credentials.Scopes)
	}
}

func TestHandleCallbackRejectsReplayedCodeAcrossRequests(t *testing.T) {
	fixture := newGatewayFixture(t)
	first := fixture.startedSession(t)
	if err := fixture.gateway.HandleCallback(context.Background(), first, CallbackParams{State: first.Flow.State, Code: "code-once"}); err != nil {
		t.Fatalf("first callback: %v", err)
	}

	second := fixture.startedSession(t)
	err := fixture.gateway.HandleCallback(context.Background(), second, CallbackParams{State: second.Flow.State, Code: "code-once"})
	if !errors.Is(err, ErrReplayedCode) {
		t.Fatalf("expected ErrReplayedCode, got %v", err)
	}
	if fixture.endpoint.requests.Load() != 1 {
		t.Fatalf("expected a single exchange, got %d", fixture.endpoint.requests.Load())
	}

	fixture.clock.Advance(11 * time.Minute)
	third := fixture.startedSession(t)
	if err := fixture.gateway.HandleCallback(context.Background(), third, CallbackParams{State: third.Flow.State, Code: "code-once"}); err != nil {
		t.Fatalf("expected code accepted after its window, got %v", err)
	}
}

func TestHandleCallbackMissingCode(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)

	err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State})
	var exchangeError *ExchangeError
	if !errors.As(err, &exchangeError) || exchangeError.Category != ExchangeCategoryGeneric {
		t.Fatalf("expected generic exchange error, got %v", err)
	}
	if fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected no exchange without code")
	}
}

func TestHandleCallbackExchangeFailureCategories(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		errorCode string
		expected  ExchangeCategory
	}{
		{name: "invalid grant", status: http.StatusBadRequest, errorCode: "invalid_grant", expected: ExchangeCategoryCodeExpired},
		{name: "scope", status: http.StatusBadRequest, errorCode: "invalid_scope", expected: ExchangeCategoryScope},
		{name: "generic", status: http.StatusInternalServerError, errorCode: "server_error", expected: ExchangeCategoryGeneric},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fixture := newGatewayFixture(t)
			fixture.endpoint.fail(testCase.status, testCase.errorCode, "Bad Request")
			session := fixture.startedSession(t)

			err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-fail"})
			var exchangeError *ExchangeError
			if !errors.As(err, &exchangeError) {
				t.Fatalf("expected ExchangeError, got %v", err)
			}
			if !errors.Is(err, ErrTokenExchange) {
				t.Fatalf("expected ErrTokenExchange in chain")
			}
			if exchangeError.Category != testCase.expected {
				t.Fatalf("expected category %s, got %s (%v)", testCase.expected, exchangeError.Category, err)
			}
			if session.Flow != nil || session.Credentials != nil {
				t.Fatalf("expected session cleared after failed exchange")
			}
			if fixture.codes.Len() != 0 {
				t.Fatalf("expected failed code released")
			}
		})
	}
}

func TestClassifyExchangeError(t *testing.T) {
	testCases := map[string]ExchangeCategory{
		"Authorization code expired or invalid": ExchangeCategoryCodeExpired,
		"code was already used":                 ExchangeCategoryCodeExpired,
		"oauth2: \"invalid_grant\"":             ExchangeCategoryCodeExpired,
		"Scope has changed":                     ExchangeCategoryScope,
		"connection refused":                    ExchangeCategoryGeneric,
	}
	for message, expected := range testCases {
		if actual := classifyExchangeError(errors.New(message)); actual != expected {
			t.Fatalf("message %q: expected %s, got %s", message, expected, actual)
		}
	}
	if classifyExchangeError(nil) != ExchangeCategoryGeneric {
		t.Fatalf("expected generic for nil error")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := &Session{Flow: &FlowState{State: "s", Started: true}, Credentials: &Credentials{AccessToken: "a"}}
	fixture.gateway.Logout(session)
	if session.Flow != nil || session.Credentials != nil {
		t.Fatalf("expected empty session")
	}
}

type failingCodeStore struct {
	claimErr error
	released int
}

func (store *failingCodeStore) Claim(ctx context.Context, code string) error {
	return store.claimErr
}

func (store *failingCodeStore) Release(ctx context.Context, code string) error {
	store.released++
	return nil
}

func newSecureOnlyGateway(t *testing.T, fixture *gatewayFixture) *Gateway {
	t.Helper()
	configuration := newTestServerConfig()
	configuration.AllowInsecureHTTP = false
	gateway, err := NewGateway(newTestOAuthConfig(fixture.endpoint.server.URL), fixture.codes, configuration)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gateway
}

func TestHandleCallbackInsecureTransport(t *testing.T) {
	fixture := newGatewayFixture(t)
	gateway := newSecureOnlyGateway(t, fixture)

	session := &Session{}
	if _, err := gateway.BeginLogin(context.Background(), session); err != nil {
		t.Fatalf("begin login: %v", err)
	}
	state := session.Flow.State

	err := gateway.HandleCallback(context.Background(), session, CallbackParams{State: state, Code: "code-1"})
	if !errors.Is(err, ErrInsecureCallback) {
		t.Fatalf("expected ErrInsecureCallback, got %v", err)
	}
	if session.Flow != nil {
		t.Fatalf("expected flow cleared after insecure callback")
	}
	if fixture.codes.Len() != 0 || fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected no claim and no exchange")
	}
	if fixture.metrics.Count(metricCallbackInsecure) != 1 {
		t.Fatalf("expected insecure metric, got %v", fixture.metrics.Snapshot())
	}

	if _, err := gateway.BeginLogin(context.Background(), session); err != nil {
		t.Fatalf("begin login: %v", err)
	}
	secureErr := gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-2", Secure: true})
	if secureErr != nil {
		t.Fatalf("expected secure callback to succeed, got %v", secureErr)
	}
}

func TestHandleCallbackMissingFlowWinsOverInsecureTransport(t *testing.T) {
	fixture := newGatewayFixture(t)
	gateway := newSecureOnlyGateway(t, fixture)

	err := gateway.HandleCallback(context.Background(), &Session{}, CallbackParams{State: "abc", Code: "code-1"})
	if !errors.Is(err, ErrInvalidFlowState) {
		t.Fatalf("expected ErrInvalidFlowState, got %v", err)
	}
}

func TestHandleCallbackStateComparisonIsExact(t *testing.T) {
	fixture := newGatewayFixture(t)
	session := fixture.startedSession(t)
	state := session.Flow.State

	for _, candidate := range []string{"", state[:len(state)-1], state + "x"} {
		err := fixture.gateway.HandleCallback(context.Background(), session, CallbackParams{State: candidate, Code: "code-1"})
		if !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("state %q: expected ErrStateMismatch, got %v", candidate, err)
		}
	}
}

func TestHandleCallbackClaimFailureClearsSession(t *testing.T) {
	fixture := newGatewayFixture(t)
	store := &failingCodeStore{claimErr: errors.New("database unavailable")}
	gateway, err := NewGateway(newTestOAuthConfig(fixture.endpoint.server.URL), store, newTestServerConfig())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	session := &Session{}
	if _, err := gateway.BeginLogin(context.Background(), session); err != nil {
		t.Fatalf("begin login: %v", err)
	}

	callbackErr := gateway.HandleCallback(context.Background(), session, CallbackParams{State: session.Flow.State, Code: "code-1"})
	var exchangeError *ExchangeError
	if !errors.As(callbackErr, &exchangeError) || exchangeError.Category != ExchangeCategoryGeneric {
		t.Fatalf("expected generic exchange error, got %v", callbackErr)
	}
	if session.Flow != nil || session.Credentials != nil {
		t.Fatalf("expected session cleared, got %+v", session)
	}
	if fixture.metrics.Count(metricCallbackExchangeError) != 1 {
		t.Fatalf("expected exchange failure metric, got %v", fixture.metrics.Snapshot())
	}
	if fixture.endpoint.requests.Load() != 0 {
		t.Fatalf("expected no token exchange")
	}
}
