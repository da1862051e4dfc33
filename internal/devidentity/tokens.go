package devidentity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const tokenLifetime = 12 * time.Hour

// Claims of a dev credential. Impersonator is the admin's id while impersonating.
type Claims struct {
	Impersonator string `json:"imp,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies credentials with a shared HS256 secret.
type Issuer struct {
	secret []byte
	clock  clockwork.Clock
}

func NewIssuer(secret string, clock clockwork.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &Issuer{secret: []byte(secret), clock: clock}, nil
}

func (i *Issuer) Issue(userID, impersonator string) (string, error) {
	now := i.clock.Now()
	claims := Claims{
		Impersonator: impersonator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}
