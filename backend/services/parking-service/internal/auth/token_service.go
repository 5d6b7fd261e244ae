// Package auth issues and checks the bearer tokens carried by gate agents
// and administrators.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Claims represents JWT payload. Subject holds the agent id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

// NewTokenService returns configured token service.
func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateToken issues JWT for the agent with role.
func (t *TokenService) GenerateToken(agentID, role string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", errors.New("token: agent id is required")
	}
	if !ValidRole(role) {
		return "", errors.New("token: unknown role")
	}

	now := t.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken verifies and decodes JWT.
func (t *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token: invalid claims")
	}
	if claims.Subject == "" || !ValidRole(claims.Role) {
		return nil, errors.New("token: missing subject or role")
	}
	return claims, nil
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleAgent || role == RoleAdmin
}
