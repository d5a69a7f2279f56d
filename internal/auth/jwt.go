package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-telephony/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrNotAccessToken = errors.New("auth: not an access token")
	ErrMissingUser    = errors.New("auth: user_id missing")
	ErrMissingRole    = errors.New("auth: role missing")
)

// clockSkew is tolerated on exp/iat between the CRM and this service.
const clockSkew = 30 * time.Second

// Manager verifies the HS256 access tokens the CRM hands its users. It can
// also mint them, which the devtoken command uses for local testing.
type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		accessTTL: cfg.AccessTokenTTL,
	}, nil
}

// Issue signs an access token for id valid from now for the configured TTL.
// Assigned numbers are trimmed and de-duplicated.
func (m *Manager) Issue(now time.Time, id Identity) (string, error) {
	if id.UserID == "" {
		return "", ErrMissingUser
	}
	if id.Role == "" {
		return "", ErrMissingRole
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
		UserID:          id.UserID,
		Role:            id.Role,
		AssignedNumbers: uniqueNumbers(id.AssignedNumbers),
		TokenType:       TokenTypeAccess,
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyAccess parses tok as of now and returns its claims. Refresh tokens
// and tokens without a user or role are rejected.
func (m *Manager) VerifyAccess(tok string, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("auth: %w", err)
	}

	switch {
	case claims.TokenType != TokenTypeAccess:
		return Claims{}, ErrNotAccessToken
	case claims.UserID == "":
		return Claims{}, ErrMissingUser
	case claims.Role == "":
		return Claims{}, ErrMissingRole
	}
	return claims, nil
}

func uniqueNumbers(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
