package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "entadmin"

	// DefaultAccessTTL applies when no access lifetime is configured.
	DefaultAccessTTL = 7 * 24 * time.Hour
	// RefreshTTL is fixed; refresh tokens are neither rotated nor revocable.
	RefreshTTL = 30 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	errMissingSecret = errors.New("auth: token secret is not configured")
	errSharedSecret  = errors.New("auth: access and refresh secrets must differ")
)

// Payload is the identity carried inside a token.
type Payload struct {
	ID    string
	Email string
	Role  Role
}

// Claims represents JWT claims used across the service.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens with independent secrets.
// It holds no per-user state.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	now           func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: access ttl must be greater than zero", ErrInvalidInput)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService refuses to start without both secrets.
func NewTokenService(accessSecret, refreshSecret string, opts ...TokenOption) (*TokenService, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, errSharedSecret
	}
	svc := &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs {id, email, role} with the access secret.
func (s *TokenService) IssueAccessToken(p Payload) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	claims := Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: tokenTypeAccess,
	}
	return s.sign(claims, p.ID, s.accessTTL, s.accessSecret)
}

// IssueRefreshToken signs {id} with the refresh secret.
func (s *TokenService) IssueRefreshToken(p Payload) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	return s.sign(Claims{TokenType: tokenTypeRefresh}, p.ID, RefreshTTL, s.refreshSecret)
}

func (s *TokenService) sign(claims Claims, subject string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyAccessToken returns the payload of a valid access token. Any failure (bad
// signature, expiry, wrong secret, malformed input) yields ok=false.
func (s *TokenService) VerifyAccessToken(token string) (Payload, bool) {
	claims, ok := s.verify(token, s.accessSecret, tokenTypeAccess)
	if !ok || !claims.Role.Valid() {
		return Payload{}, false
	}
	return Payload{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, true
}

// VerifyRefreshToken returns the subject of a valid refresh token.
func (s *TokenService) VerifyRefreshToken(token string) (Payload, bool) {
	claims, ok := s.verify(token, s.refreshSecret, tokenTypeRefresh)
	if !ok {
		return Payload{}, false
	}
	return Payload{ID: claims.Subject}, true
}

func (s *TokenService) verify(token string, secret []byte, tokenType string) (*Claims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if claims.TokenType != tokenType || strings.TrimSpace(claims.Subject) == "" {
		return nil, false
	}
	return claims, true
}
