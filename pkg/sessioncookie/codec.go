package sessioncookie

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/nacl/secretbox"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Codec.
type Config struct {
	Secret     []byte
	Issuer     string
	CookieName string
	TTL        time.Duration
	Clock      Clock
}

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "briefing_session"

// DefaultTTL is used when Config.TTL is not positive.
const DefaultTTL = 24 * time.Hour

const (
	nonceLength  = 24
	sealKeyLabel = "sessioncookie.seal"
)

// Sentinel errors exposed by the codec.
var (
	ErrMissingSecret = errors.New("session.cookie.missing_secret")
	ErrMissingIssuer = errors.New("session.cookie.missing_issuer")
	ErrMissingToken  = errors.New("session.cookie.missing_token")
	ErrMissingCookie = errors.New("session.cookie.missing_cookie")
	ErrInvalidToken  = errors.New("session.cookie.invalid_token")
	ErrInvalidIssuer = errors.New("session.cookie.invalid_issuer")
	ErrTokenExpired  = errors.New("session.cookie.expired")
	ErrBrokenSeal    = errors.New("session.cookie.broken_seal")
)

// Claims wrap the sealed session payload in a signed envelope.
type Claims struct {
	Sealed string `json:"sealed"`
	jwt.RegisteredClaims
}

// Codec turns session payloads into cookie values and back. The payload is
// encrypted with secretbox and carried inside an HS256 JWT.
type Codec struct {
	signingKey []byte
	sealKey    [32]byte
	issuer     string
	cookieName string
	ttl        time.Duration
	clock      Clock
}

// New constructs a Codec after validating the supplied configuration.
func New(configuration Config) (*Codec, error) {
	if len(configuration.Secret) == 0 {
		return nil, fmt.Errorf("session.cookie.new: %w", ErrMissingSecret)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.cookie.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	ttl := configuration.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Codec{
		signingKey: configuration.Secret,
		sealKey:    sha256.Sum256(append([]byte(sealKeyLabel), configuration.Secret...)),
		issuer:     configuration.Issuer,
		cookieName: cookieName,
		ttl:        ttl,
		clock:      clock,
	}, nil
}

// CookieName returns the name of the cookie carrying the session.
func (codec *Codec) CookieName() string {
	return codec.cookieName
}

// TTL returns the lifetime given to freshly encoded sessions.
func (codec *Codec) TTL() time.Duration {
	return codec.ttl
}

// Encode seals payload and returns the signed token with its expiry.
func (codec *Codec) Encode(payload any) (string, time.Time, error) {
	plaintext, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return "", time.Time{}, fmt.Errorf("session.cookie.encode: %w", marshalErr)
	}
	var nonce [nonceLength]byte
	if _, randomErr := rand.Read(nonce[:]); randomErr != nil {
		return "", time.Time{}, fmt.Errorf("session.cookie.encode: %w", randomErr)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &codec.sealKey)

	issuedAt := codec.clock.Now().UTC()
	expiresAt := issuedAt.Add(codec.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Sealed: base64.RawURLEncoding.EncodeToString(sealed),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(codec.signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("session.cookie.encode: %w", signErr)
	}
	return signed, expiresAt, nil
}

// Decode validates tokenString and unmarshals the sealed payload into target.
func (codec *Codec) Decode(tokenString string, target any) error {
	if strings.TrimSpace(tokenString) == "" {
		return fmt.Errorf("session.cookie.decode: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return codec.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return fmt.Errorf("session.cookie.decode: %w", ErrTokenExpired)
		}
		return fmt.Errorf("session.cookie.decode: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || !parsedToken.Valid {
		return fmt.Errorf("session.cookie.decode: %w", ErrInvalidToken)
	}
	if claims.Issuer != codec.issuer {
		return fmt.Errorf("session.cookie.decode: %w", ErrInvalidIssuer)
	}

	sealed, decodeErr := base64.RawURLEncoding.DecodeString(claims.Sealed)
	if decodeErr != nil || len(sealed) < nonceLength {
		return fmt.Errorf("session.cookie.decode: %w", ErrBrokenSeal)
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plaintext, opened := secretbox.Open(nil, sealed[nonceLength:], &nonce, &codec.sealKey)
	if !opened {
		return fmt.Errorf("session.cookie.decode: %w", ErrBrokenSeal)
	}
	if unmarshalErr := json.Unmarshal(plaintext, target); unmarshalErr != nil {
		return fmt.Errorf("session.cookie.decode: %w", unmarshalErr)
	}
	return nil
}

// DecodeRequest reads the configured cookie from the request and decodes it.
func (codec *Codec) DecodeRequest(request *http.Request, target any) error {
	if request == nil {
		return fmt.Errorf("session.cookie.decode_request: %w", ErrMissingToken)
	}
	cookie, cookieErr := request.Cookie(codec.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return fmt.Errorf("session.cookie.decode_request: %w", ErrMissingCookie)
	}
	return codec.Decode(cookie.Value, target)
}
