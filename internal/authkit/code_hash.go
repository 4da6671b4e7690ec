package authkit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const stateTokenByteLength = 32

func newStateToken() (string, error) {
	randomBytes := make([]byte, stateTokenByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("oauth_flow.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// hashCode keeps raw authorization codes out of the replay store.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
