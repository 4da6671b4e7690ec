package authkit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrClientSecretsMissing indicates neither the base64 blob nor the file supplied client secrets.
	ErrClientSecretsMissing = errors.New("oauth_client.secrets_missing")
	errClientSecretsBase64  = errors.New("oauth_client.secrets_invalid_base64")
)

// LoadClientSecrets returns the Google client secrets JSON. The base64 blob
// takes precedence; the file is the fallback.
func LoadClientSecrets(encodedSecrets string, secretsFile string) ([]byte, error) {
	if trimmed := strings.TrimSpace(encodedSecrets); trimmed != "" {
		decoded, decodeErr := base64.StdEncoding.DecodeString(trimmed)
		if decodeErr == nil {
			return decoded, nil
		}
		currentLogger().Warn("client secrets blob is not valid base64; falling back to file")
		if strings.TrimSpace(secretsFile) == "" {
			return nil, fmt.Errorf("%w: %v", errClientSecretsBase64, decodeErr)
		}
	}
	if strings.TrimSpace(secretsFile) == "" {
		return nil, ErrClientSecretsMissing
	}
	contents, readErr := os.ReadFile(secretsFile)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrClientSecretsMissing, secretsFile)
		}
		return nil, fmt.Errorf("oauth_client.read_secrets: %w", readErr)
	}
	return contents, nil
}

// NewGoogleOAuthConfig parses client secrets and binds the redirect URI and scopes.
func NewGoogleOAuthConfig(clientSecrets []byte, redirectURI string) (*oauth2.Config, error) {
	oauthConfig, err := google.ConfigFromJSON(clientSecrets, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("oauth_client.parse_secrets: %w", err)
	}
	if strings.TrimSpace(redirectURI) != "" {
		oauthConfig.RedirectURL = redirectURI
	}
	return oauthConfig, nil
}
