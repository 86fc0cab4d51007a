// Package auth covers the passwordless login pieces: signed session tokens,
// one-time verification codes and recaptcha checks.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenManager issues and verifies HMAC-SHA256 signed session tokens carrying
// the user's email. Expiry is enforced by the session cookie, not the token.
type TokenManager struct {
	secret []byte
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

func (m *TokenManager) Issue(email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
	})
	return token.SignedString(m.secret)
}

// Verify returns the email from a valid token, or false when the token is
// malformed, unsigned or signed with a different key.
func (m *TokenManager) Verify(tokenString string) (string, bool) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", false
	}
	return email, true
}
