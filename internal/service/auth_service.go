package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/examcore/internal/config"
)

// Role distinguishes participants from graders. Both are asserted by the identity service.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleGrader      Role = "grader"
)

// Identity is the caller as asserted by the identity service. It is trusted as given.
type Identity struct {
	Subject   string `json:"subject"`
	TenantRef string `json:"tenant_ref"`
	Role      Role   `json:"role"`
}

// Claims extends JWT standard claims with the identity fields.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}

// Identity converts validated claims into the caller identity.
func (c *Claims) Identity() Identity {
	return Identity{Subject: c.Subject, TenantRef: c.TenantID, Role: c.Role}
}

// AuthService verifies tokens issued by the identity service.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// GenerateToken signs a token for ident. The identity service owns token issuance in
// production; this exists for operators and local environments.
func (s *AuthService) GenerateToken(ident Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   ident.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: ident.TenantRef,
		Role:     ident.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, errors.New("token is missing subject or tenant")
	}
	if claims.Role != RoleParticipant && claims.Role != RoleGrader {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}

	return claims, nil
}
