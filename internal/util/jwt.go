package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/models"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrWrongKeyUsage = errors.New("unexpected token type")
)

// JWTConfig holds token issuance configuration. The signing key arrives
// through config/secrets; key management is outside this service.
type JWTConfig struct {
	SigningKey      string        `yaml:"signing_key" env:"JWT_SIGNING_KEY"`
	Issuer          string        `yaml:"issuer"`
	Audience        []string      `yaml:"audience"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthClaims are the JWT claims this service issues and verifies.
type AuthClaims struct {
	TokenType string `json:"token_type"`
	Email     string `json:"email,omitempty"`

	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens. It implements the token
// issuer contract consumed by the auth flows.
type JWTManager struct {
	cfg JWTConfig
	key []byte
}

func NewJWTManager(cfg JWTConfig) (*JWTManager, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 720 * time.Hour
	}
	return &JWTManager{cfg: cfg, key: []byte(cfg.SigningKey)}, nil
}

// Sign issues a token for the claims with the given TTL.
func (m *JWTManager) Sign(ctx context.Context, claims models.TokenClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	jc := AuthClaims{
		TokenType: claims.TokenType,
		Email:     claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   claims.Subject,
			Issuer:    m.cfg.Issuer,
			Audience:  m.cfg.Audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (m *JWTManager) Verify(ctx context.Context, tokenString string) (models.TokenClaims, error) {
	var claims AuthClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.TokenClaims{}, ErrTokenExpired
		}
		return models.TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return models.TokenClaims{}, ErrInvalidToken
	}
	return models.TokenClaims{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Email:     claims.Email,
		TokenType: claims.TokenType,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// AccessTokenTTL exposes the configured access token lifetime.
func (m *JWTManager) AccessTokenTTL() time.Duration { return m.cfg.AccessTokenTTL }

// RefreshTokenTTL exposes the configured refresh token lifetime.
func (m *JWTManager) RefreshTokenTTL() time.Duration { return m.cfg.RefreshTokenTTL }
