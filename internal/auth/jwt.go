package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"callcenter/internal/config"
)

// clockSkew tolerates drift between this service and the issuer.
const clockSkew = 30 * time.Second

var (
	ErrTokenType    = errors.New("token_type not accepted")
	ErrMissingClaim = errors.New("required claim missing")
)

// Manager signs and verifies HS256 tokens. User access tokens normally come from the
// identity service sharing JWT_SECRET; service tokens are minted by cmd/token.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	serviceTTL time.Duration
	parser     *jwt.Parser
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		serviceTTL: cfg.ServiceTokenTTL,
		// Claims are validated separately against the caller's clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// IssueAccess signs a user token for id with the configured access TTL.
func (m *Manager) IssueAccess(now time.Time, id Identity) (string, error) {
	if id.UserID == "" || id.Role == "" {
		return "", ErrMissingClaim
	}
	if id.Role == ServiceRole {
		return "", fmt.Errorf("%w: %s requires a service token", ErrTokenType, ServiceRole)
	}
	return m.sign(now, TokenTypeAccess, id, m.accessTTL)
}

// IssueService signs an integration token for the named service.
func (m *Manager) IssueService(now time.Time, service string) (string, error) {
	if service == "" {
		return "", ErrMissingClaim
	}
	return m.sign(now, TokenTypeService, Identity{UserID: service, Role: ServiceRole}, m.serviceTTL)
}

// Verify parses tokenString at now and checks it is one of the accepted types.
// With no accept list only access tokens pass.
func (m *Manager) Verify(tokenString string, now time.Time, accept ...TokenType) (Claims, error) {
	var claims Claims
	if _, err := m.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
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
	if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
		return Claims{}, err
	}

	if !accepted(claims.TokenType, accept) {
		return Claims{}, ErrTokenType
	}
	if claims.UserID == "" || claims.Role == "" {
		return Claims{}, ErrMissingClaim
	}
	// Service tokens carry only the service role, and user tokens never do.
	if (claims.TokenType == TokenTypeService) != (claims.Role == ServiceRole) {
		return Claims{}, ErrTokenType
	}
	return claims, nil
}

func accepted(t TokenType, accept []TokenType) bool {
	if len(accept) == 0 {
		return t == TokenTypeAccess
	}
	for _, a := range accept {
		if a == t {
			return true
		}
	}
	return false
}

func (m *Manager) sign(now time.Time, tokenType TokenType, id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:    id.UserID,
		Role:      id.Role,
		TokenType: tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
