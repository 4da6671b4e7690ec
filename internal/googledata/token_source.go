package googledata

import (
	"context"
	"net/http"
	"sync"

	"github.com/tyemirov/briefing/internal/authkit"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// sessionTokenSource refreshes through the stored client binding and copies
// every new token back into the session credentials.
type sessionTokenSource struct {
	mutex       sync.Mutex
	base        oauth2.TokenSource
	credentials *authkit.Credentials
	logger      *zap.Logger
}

func (source *sessionTokenSource) Token() (*oauth2.Token, error) {
	token, err := source.base.Token()
	if err != nil {
		return nil, err
	}
	source.mutex.Lock()
	defer source.mutex.Unlock()
	if source.credentials.UpdateToken(token) {
		source.logger.Info("access token refreshed", zap.String("code", "googledata.token.refreshed"))
	}
	return token, nil
}

func (fetcher *Fetcher) authorizedClient(ctx context.Context, credentials *authkit.Credentials) *http.Client {
	if fetcher.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, fetcher.httpClient)
	}
	oauthConfig := credentials.OAuthConfig()
	token := credentials.Token()
	source := &sessionTokenSource{
		base:        oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		credentials: credentials,
		logger:      fetcher.logger,
	}
	return oauth2.NewClient(ctx, source)
}
