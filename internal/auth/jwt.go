package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims issued to dashboard users and service
// accounts. The meters claim narrows a token to specific devices, the way
// an installer account is scoped to the sites they commissioned; tokens
// without it cover the tenant's whole fleet.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Role     string   `json:"role"`
	Plan     string   `json:"plan,omitempty"`
	Meters   []string `json:"meters,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 bearer token and returns the caller
// identity. Expiry and not-before are enforced by the parser; tenant and
// role are required claims.
func ParseToken(tokenString string, secret []byte) (Identity, error) {
	if tokenString == "" {
		return Identity{}, errors.New("auth: missing bearer token")
	}
	if len(secret) == 0 {
		return Identity{}, errors.New("auth: signing secret not configured")
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: verify token: %w", err)
	}
	if !token.Valid {
		return Identity{}, errors.New("auth: invalid token")
	}
	if claims.TenantID == "" {
		return Identity{}, errors.New("auth: token carries no tenant")
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return Identity{}, fmt.Errorf("auth: unknown role %q", claims.Role)
	}

	return Identity{
		TenantID: claims.TenantID,
		Subject:  claims.Subject,
		Role:     role,
		Plan:     claims.Plan,
		Meters:   claims.Meters,
	}, nil
}
