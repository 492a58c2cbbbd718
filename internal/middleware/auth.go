// Package middleware содержит HTTP middleware витрины: сессии, доступ модераторов, сжатие и логирование.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const emailKey contextKey = "email"

const (
	sessionCookieName = "session"
	sessionTTL        = 30 * 24 * time.Hour
	sessionIssuer     = "storefront"
)

// ErrInvalidSession возвращается для отсутствующей, поддельной или просроченной сессии.
var ErrInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionManager выдаёт и проверяет подписанный cookie сессии с email покупателя.
type SessionManager struct {
	secretKey []byte
	now       func() time.Time
}

// NewSessionManager создаёт SessionManager. Пустой секрет заменяется случайным,
// и тогда сессии не переживают перезапуск процесса.
func NewSessionManager(secret string) *SessionManager {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionManager{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware проверяет cookie сессии и добавляет email покупателя в контекст запроса.
func (s *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		email, err := s.Parse(cookie.Value)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), emailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает cookie сессии для указанного email.
func (s *SessionManager) SetSessionCookie(w http.ResponseWriter, email string) error {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})

	value, err := token.SignedString(s.secretKey)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(sessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Parse проверяет подпись и срок действия сессии и возвращает email.
func (s *SessionManager) Parse(value string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Email == "" {
		return "", fmt.Errorf("%w: empty email", ErrInvalidSession)
	}
	return claims.Email, nil
}

// RequireAdmin пропускает только сессии модераторов. Вызывается после Middleware.
func RequireAdmin(admins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			allowed[a] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, ok := GetEmailFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[strings.ToLower(email)]; !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetEmailFromContext извлекает email покупателя из контекста запроса.
func GetEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok
}
