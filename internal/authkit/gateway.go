package authkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// GoogleScopes are requested on every login.
var GoogleScopes = []string{
	gmail.GmailReadonlyScope,
	calendar.CalendarReadonlyScope,
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
	// Secure reports whether the redirect arrived over HTTPS.
	Secure           bool
}

// Gateway runs the authorization-code flow against the identity provider.
type Gateway struct {
	oauthConfig   *oauth2.Config
	codes         CodeStore
	configuration ServerConfig
}

// NewGateway wires the OAuth client configuration and the replay store.
func NewGateway(oauthConfig *oauth2.Config, codes CodeStore, configuration ServerConfig) (*Gateway, error) {
	if oauthConfig == nil {
		return nil, errors.New("oauth_flow.new: oauth config is required")
	}
	if codes == nil {
		return nil, errors.New("oauth_flow.new: code store is required")
	}
	if len(oauthConfig.Scopes) == 0 {
		oauthConfig.Scopes = GoogleScopes
	}
	return &Gateway{oauthConfig: oauthConfig, codes: codes, configuration: configuration}, nil
}

// BeginLogin resets the session, starts a new flow, and returns the provider URL.
func (gateway *Gateway) BeginLogin(ctx context.Context, session *Session) (string, error) {
	session.Clear()
	state, err := newStateToken()
	if err != nil {
		return "", err
	}
	session.Flow = &FlowState{
		State:     state,
		StartedAt: currentClock().Now().UTC(),
		Started:   true,
	}
	authURL := gateway.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
	recordMetric(metricLoginStart)
	return authURL, nil
}

// HandleCallback validates the provider redirect and exchanges the code.
// On success the session holds credentials and no flow state.
func (gateway *Gateway) HandleCallback(ctx context.Context, session *Session, params CallbackParams) error {
	logger := currentLogger()
	flow := session.Flow
	if flow == nil || !flow.Started || flow.State == "" {
		recordMetric(metricCallbackInvalidState)
		return ErrInvalidFlowState
	}

	if !params.Secure && !gateway.configuration.AllowInsecureHTTP {
		session.Clear()
		recordMetric(metricCallbackInsecure)
		return ErrInsecureCallback
	}

	if currentClock().Now().Sub(flow.StartedAt) > gateway.configuration.flowTTL() {
		session.Clear()
		recordMetric(metricCallbackExpired)
		return ErrFlowExpired
	}

	if subtle.ConstantTimeCompare([]byte(params.State), []byte(flow.State)) != 1 {
		recordMetric(metricCallbackStateMismatch)
		return ErrStateMismatch
	}

	if params.Code != "" {
		if claimErr := gateway.codes.Claim(ctx, params.Code); claimErr != nil {
			if errors.Is(claimErr, ErrCodeReplayed) {
				recordMetric(metricCallbackReplay)
				return ErrReplayedCode
			}
			session.Clear()
			recordMetric(metricCallbackExchangeError)
			logger.Error("code claim failed",
				zap.String("code", "oauth.callback.code_claim_failed"),
				zap.Error(claimErr))
			return &ExchangeError{Category: ExchangeCategoryGeneric, Err: errors.New("authorization code could not be recorded")}
		}
	}

	if params.Error != "" {
		description := params.ErrorDescription
		if description == "" {
			description = "Unknown error"
		}
		gateway.abandon(ctx, session, params.Code)
		recordMetric(metricCallbackProviderError)
		return &ProviderError{Code: params.Error, Description: description}
	}

	if params.Code == "" {
		session.Clear()
		recordMetric(metricCallbackExchangeError)
		return &ExchangeError{Category: ExchangeCategoryGeneric, Err: errors.New("no authorization code received from Google")}
	}

	token, exchangeErr := gateway.oauthConfig.Exchange(ctx, params.Code)
	if exchangeErr != nil {
		gateway.abandon(ctx, session, params.Code)
		recordMetric(metricCallbackExchangeError)
		category := classifyExchangeError(exchangeErr)
		logger.Warn("token exchange failed",
			zap.String("code", "oauth.callback.exchange_failed"),
			zap.String("category", string(category)),
			zap.Error(exchangeErr))
		return &ExchangeError{Category: category, Err: fmt.Errorf("OAuth authentication failed: %w", exchangeErr)}
	}

	session.Credentials = &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		TokenURL:     gateway.oauthConfig.Endpoint.TokenURL,
		ClientID:     gateway.oauthConfig.ClientID,
		ClientSecret: gateway.oauthConfig.ClientSecret,
		Scopes:       gateway.grantedScopes(token),
	}
	session.Flow = nil
	recordMetric(metricCallbackSuccess)
	return nil
}

// Logout drops all session state.
func (gateway *Gateway) Logout(session *Session) {
	session.Clear()
	recordMetric(metricLogout)
}

// abandon resets the session and frees the code so the user can retry.
func (gateway *Gateway) abandon(ctx context.Context, session *Session, code string) {
	session.Clear()
	if code == "" {
		return
	}
	if releaseErr := gateway.codes.Release(ctx, code); releaseErr != nil {
		currentLogger().Warn("code release failed",
			zap.String("code", "oauth.callback.code_release_failed"),
			zap.Error(releaseErr))
	}
}

// grantedScopes accepts whatever the provider granted; scope drift is not an error.
func (gateway *Gateway) grantedScopes(token *oauth2.Token) []string {
	if granted, ok := token.Extra("scope").(string); ok && strings.TrimSpace(granted) != "" {
		return strings.Fields(granted)
	}
	requested := make([]string, len(gateway.oauthConfig.Scopes))
	copy(requested, gateway.oauthConfig.Scopes)
	return requested
}
