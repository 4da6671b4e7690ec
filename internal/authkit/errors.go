package authkit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidFlowState indicates the callback arrived without a started flow.
	ErrInvalidFlowState = errors.New("oauth_flow.invalid_state")
	// ErrFlowExpired indicates the flow outlived its TTL.
	ErrFlowExpired = errors.New("oauth_flow.expired")
	// ErrStateMismatch indicates the returned state does not match the stored one.
	ErrStateMismatch = errors.New("oauth_flow.state_mismatch")
	// ErrReplayedCode indicates the authorization code was already exchanged.
	ErrReplayedCode = errors.New("oauth_flow.replayed_code")
	// ErrInsecureCallback indicates the callback arrived over plain HTTP.
	ErrInsecureCallback = errors.New("oauth_flow.insecure_transport")
	// ErrIdentityProvider indicates the provider redirected back with an error.
	ErrIdentityProvider = errors.New("oauth_flow.provider_error")
	// ErrTokenExchange indicates the code could not be exchanged for tokens.
	ErrTokenExchange = errors.New("oauth_flow.exchange_failed")
)

// ProviderError carries the error and description returned by the identity provider.
type ProviderError struct {
	Code        string
	Description string
}

func (providerError *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s - %s", ErrIdentityProvider, providerError.Code, providerError.Description)
}

func (providerError *ProviderError) Unwrap() error {
	return ErrIdentityProvider
}

// ExchangeCategory groups exchange failures into user-facing classes.
type ExchangeCategory string

const (
	ExchangeCategoryCodeExpired ExchangeCategory = "code_expired"
	ExchangeCategoryScope       ExchangeCategory = "scope"
	ExchangeCategoryGeneric     ExchangeCategory = "generic"
)

// ExchangeError wraps a failed token exchange.
type ExchangeError struct {
	Category ExchangeCategory
	Err      error
}

func (exchangeError *ExchangeError) Error() string {
	return fmt.Sprintf("%s.%s: %v", ErrTokenExchange, exchangeError.Category, exchangeError.Err)
}

// Is matches ErrTokenExchange.
func (exchangeError *ExchangeError) Is(target error) bool {
	return target == ErrTokenExchange
}

func (exchangeError *ExchangeError) Unwrap() error {
	return exchangeError.Err
}

func classifyExchangeError(err error) ExchangeCategory {
	if err == nil {
		return ExchangeCategoryGeneric
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "expired or invalid"),
		strings.Contains(message, "invalid_grant"),
		strings.Contains(message, "already used"):
		return ExchangeCategoryCodeExpired
	case strings.Contains(message, "scope"):
		return ExchangeCategoryScope
	default:
		return ExchangeCategoryGeneric
	}
}
