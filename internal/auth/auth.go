// Package auth verifies the bearer tokens presented by realtime clients.
// Token issuance belongs to the main application; this package only checks
// signatures and extracts the authenticated identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned when a token fails verification
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by taskboard tokens
type Claims struct {
	jwt.RegisteredClaims

	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Identity is the verified principal behind a token
type Identity struct {
	Principal string
	Name      string
	Email     string
	Role      string
	Avatar    string
}

// IsAdmin reports whether the identity may use the admin endpoints
func (id *Identity) IsAdmin() bool {
	return id.Role == "admin" || id.Role == "super_admin"
}

// Verifier checks HMAC-signed bearer tokens
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the identity it carries
func (v *Verifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		Principal: claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		Avatar:    claims.Avatar,
	}, nil
}

// Sign creates a token for the given identity. Used by tests and by the
// taskboard CLI to mint service tokens; the application issues user tokens.
func (v *Verifier) Sign(id *Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:   id.Name,
		Email:  id.Email,
		Role:   id.Role,
		Avatar: id.Avatar,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
