package commerce

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ParseClaims читает email и срок действия из access-токена без проверки подписи.
// Подпись проверяет бэкенд при каждом запросе с этим токеном.
func ParseClaims(token string) (Claims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	c := Claims{Email: claims.Email}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	return c, nil
}
