// Package identity resolves the caller's tenant from a signed bearer token.
//
// The enforcement core never trusts a tenant ID found in a request payload;
// it comes from here, the verified identity context, or not at all.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure. Callers get no detail
// about why a token failed; detail belongs in logs, not responses.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims are the token claims keel issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

// Resolver verifies HS256 bearer tokens against a shared secret.
type Resolver struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

// NewResolver creates a Resolver. The secret must be at least 32 bytes.
func NewResolver(secret []byte, issuer string) (*Resolver, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("identity: signing secret must be at least 32 bytes")
	}
	return &Resolver{secret: secret, issuer: issuer, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// Resolve verifies the token and returns its claims. The tenant claim must
// be present; a token with no tenant identifies nobody.
func (r *Resolver) Resolve(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return r.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TenantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TenantID is the common case: verify and return just the tenant.
func (r *Resolver) TenantID(tokenString string) (string, error) {
	claims, err := r.Resolve(tokenString)
	if err != nil {
		return "", err
	}
	return claims.TenantID, nil
}

// Issue signs a token for the tenant, valid for ttl. Used by administrative
// tooling and tests; production token issuance normally lives with the
// identity provider.
func (r *Resolver) Issue(tenantID string, roles []string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("identity: tenant ID required")
	}
	now := r.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
