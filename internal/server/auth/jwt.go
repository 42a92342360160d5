// Package auth reads the expiry out of bearer tokens issued by the corpus
// service. The signature is not verified here: the token is only ever sent
// back to its issuer, and the expiry only decides when to refresh early.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token has no expiry")

// ExpiryFromToken returns the exp claim of a JWT without verifying it.
func ExpiryFromToken(tokenString string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// GenerateToken signs an HS256 token for subject. It is used by test doubles
// of the corpus service.
func GenerateToken(subject string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
	})
	return token.SignedString(secretKey)
}
