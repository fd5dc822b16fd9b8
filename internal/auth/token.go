// Package auth mints and verifies the HS256 bearer tokens exchanged with the
// platform bridge.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const issuer = "callcore"

// DefaultTTL is the lifetime of tokens minted for outbound requests.
const DefaultTTL = 5 * time.Minute

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identifies the peer that signed a request.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject that expires after ttl.
func GenerateToken(secret []byte, subject string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature, expiry and issuer and returns the claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.VerifyIssuer(issuer, true) || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
