package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fraudpop/fraudpop/internal/shopify"
)

var (
	// ErrMissingToken is returned when a request carries no session token.
	ErrMissingToken = errors.New("auth: missing session token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid session token")
)

// tokenLeeway tolerates clock skew between the platform and this server.
const tokenLeeway = 5 * time.Second

// SessionClaims are the claims of an embedded-app session token.
type SessionClaims struct {
	Dest string `json:"dest"`
	Sid  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Merchant identifies the shop (and admin user) behind a request.
type Merchant struct {
	Shop      string `json:"shop"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// TokenVerifier checks session tokens signed with the app's API secret.
type TokenVerifier struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier creates a verifier. apiKey is the expected audience; an
// empty apiKey skips the audience check.
func NewTokenVerifier(apiKey, apiSecret string) *TokenVerifier {
	return &TokenVerifier{apiKey: apiKey, secret: []byte(apiSecret), now: time.Now}
}

// Verify parses token and returns the merchant it was issued for.
func (v *TokenVerifier) Verify(token string) (*Merchant, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.apiKey != "" {
		opts = append(opts, jwt.WithAudience(v.apiKey))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	shop, err := shopFromURL(claims.Dest)
	if err != nil {
		return nil, fmt.Errorf("%w: dest: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != "" {
		iss, err := shopFromURL(claims.Issuer)
		if err != nil || iss != shop {
			return nil, fmt.Errorf("%w: issuer does not match dest", ErrInvalidToken)
		}
	}

	return &Merchant{Shop: shop, UserID: claims.Subject, SessionID: claims.Sid}, nil
}

func shopFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" {
		return "", errors.New("scheme must be https")
	}
	shop := shopify.NormalizeShop(u.Hostname())
	if !shopify.ValidShop(shop) {
		return "", fmt.Errorf("%q is not a shop domain", u.Hostname())
	}
	return shop, nil
}

// bearerToken extracts the token from "Authorization: Bearer <jwt>".
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
