package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sessionCookie(t *testing.T, m *SessionManager, email string) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	if err := m.SetSessionCookie(w, email); err != nil {
		t.Fatalf("SetSessionCookie error: %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no cookies set by SetSessionCookie")
	}
	return cookies[0]
}

func TestSessionMiddleware_WithValidCookie(t *testing.T) {
	m := NewSessionManager("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		email, ok := GetEmailFromContext(r.Context())
		if !ok {
			t.Fatalf("email not in context")
		}
		if email != "buyer@example.kg" {
			t.Fatalf("email from context = %q, want buyer@example.kg", email)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(sessionCookie(t, m, "buyer@example.kg"))

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestSessionMiddleware_WithoutCookie(t *testing.T) {
	m := NewSessionManager("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.Middleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionParse_Rejects(t *testing.T) {
	m := NewSessionManager("test-secret")
	other := NewSessionManager("other-secret")

	expired := NewSessionManager("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * sessionTTL) }

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"email": "admin@example.kg",
		"iss":   sessionIssuer,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name  string
		value string
	}{
		{name: "garbage", value: "not-a-token"},
		{name: "foreign secret", value: sessionCookie(t, other, "a@b.kg").Value},
		{name: "expired", value: sessionCookie(t, expired, "a@b.kg").Value},
		{name: "unsigned", value: noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Parse(tt.value); err == nil {
				t.Fatalf("expected error for %s session", tt.name)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewSessionManager("test-secret")
	guard := RequireAdmin([]string{" Moderator@Example.kg ", ""})

	tests := []struct {
		name   string
		email  string
		status int
	}{
		{name: "admin", email: "moderator@example.kg", status: http.StatusOK},
		{name: "buyer", email: "buyer@example.kg", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/admin/workers", nil)
			r.AddCookie(sessionCookie(t, m, tt.email))
			w := httptest.NewRecorder()

			h := m.Middleware(guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))
			h.ServeHTTP(w, r)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
