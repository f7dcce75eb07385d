// Package token issues and parses the HS256 access tokens shared by the server and the client.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

// Leeway tolerates clock skew between issuer and verifier.
const Leeway = 30 * time.Second

// Claims are the access token claims. AuthTime is the unix time of the last password check.
type Claims struct {
	jwt.RegisteredClaims
	AuthTime int64 `json:"auth_time"`
}

// SubjectID parses the subject claim as a uuid.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.FromString(c.RegisteredClaims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthenticated)
	}
	return id, nil
}

// AuthenticatedAt returns the auth_time claim.
func (c *Claims) AuthenticatedAt() time.Time { return time.Unix(c.AuthTime, 0).UTC() }

// Issuer signs access tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer constructs an Issuer. now may be nil.
func NewIssuer(key []byte, ttl time.Duration, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{key: key, ttl: ttl, now: now}
}

// Issue signs a token for subject whose password was last verified at authTime.
func (i *Issuer) Issue(subject uuid.UUID, authTime time.Time) (model.Tokens, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		AuthTime: authTime.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign token: %w", err)
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp, AuthTime: time.Unix(authTime.Unix(), 0).UTC()}, nil
}

// Parse verifies raw and returns its claims. Any failure is errs.ErrUnauthenticated.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(Leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthenticated, err)
	}
	if claims.RegisteredClaims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", errs.ErrUnauthenticated)
	}
	return claims, nil
}

// Inspect decodes claims without verifying the signature. Clients use it to read expiry and subject
// of a token they already trust.
func Inspect(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, errors.Join(errs.ErrUnauthenticated, err)
	}
	return claims, nil
}

// Expired reports whether the claims expire before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt == nil || !c.ExpiresAt.After(now)
}
