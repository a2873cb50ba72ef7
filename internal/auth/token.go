package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxgate/voxgate/internal/apperr"
)

// ErrEmptySecret indicates the issuer was built without a signing secret.
var ErrEmptySecret = errors.New("token signing secret is empty")

// IdentityClaims binds an identity token to an email address.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// TokenIssuer signs and verifies identity tokens with HS256.
// A zero TTL issues tokens without an expiry claim.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The secret is copied.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue creates a signed identity token for email.
func (t *TokenIssuer) Issue(email string) (string, error) {
	now := t.now()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: email,
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the bound email.
// Failures are apperr.ExpiredToken or apperr.InvalidCredential.
func (t *TokenIssuer) Verify(token string) (string, error) {
	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Wrap(apperr.ExpiredToken, "Token has expired", err)
		}
		return "", apperr.Wrap(apperr.InvalidCredential, "Invalid token", err)
	}
	if !parsed.Valid || claims.Email == "" {
		return "", apperr.New(apperr.InvalidCredential, "Invalid token")
	}
	return claims.Email, nil
}

func (t *TokenIssuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
	}
	return t.secret, nil
}
