package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/planwright/planwright/internal/types"
)

// ErrPermissionDenied is returned when a role lacks a required permission
var ErrPermissionDenied = errors.New("permission denied")

// Principal is the authenticated actor attached to a request
type Principal struct {
	UserID   string
	Role     types.Role
	TenantID string
}

// Can reports whether the principal's role includes the permission
func (p Principal) Can(perm Permission) bool {
	return HasPermission(p.Role, perm)
}

type claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// MintToken issues an HS256 operator token carrying the user's role
func MintToken(secret, userID string, role types.Role, tenantID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if !role.IsValid() {
		return "", fmt.Errorf("invalid role: %s", role)
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:     string(role),
		TenantID: tenantID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(secret))
}

// VerifyToken parses and validates an operator token, returning the principal
func VerifyToken(secret, tokenString string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, fmt.Errorf("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(tokenString, c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("subject claim required")
	}
	role := types.Role(c.Role)
	if !role.IsValid() {
		return Principal{}, fmt.Errorf("invalid role claim: %q", c.Role)
	}
	tenant := c.TenantID
	if tenant == "" {
		tenant = "default"
	}
	return Principal{UserID: c.Subject, Role: role, TenantID: tenant}, nil
}
