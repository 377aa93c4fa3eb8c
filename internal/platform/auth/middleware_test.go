package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, roles []string, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doRequest(mw echo.MiddlewareFunc, authHeader string, extra ...echo.MiddlewareFunc) *httptest.ResponseRecorder {
	e := echo.New()
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	for i := len(extra) - 1; i >= 0; i-- {
		handler = extra[i](handler)
	}
	handler = mw(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec := doRequest(mw, "Bearer "+signToken(t, []string{"clinician"}, time.Hour))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestJWTMiddlewareRejectsMissingAndBadTokens(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})

	if rec := doRequest(mw, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(mw, "Bearer not.a.token"); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(mw, "Bearer "+signToken(t, []string{"clinician"}, -time.Hour)); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})

	rec := doRequest(mw, "Bearer "+signToken(t, []string{"analyst"}, time.Hour), RequireRole("clinician", "analyst"))
	if rec.Code != http.StatusOK {
		t.Errorf("analyst: status = %d, want 200", rec.Code)
	}

	rec = doRequest(mw, "Bearer "+signToken(t, []string{"porter"}, time.Hour), RequireRole("clinician", "analyst"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("porter: status = %d, want 403", rec.Code)
	}

	// Admin passes every role gate.
	rec = doRequest(mw, "Bearer "+signToken(t, []string{"admin"}, time.Hour), RequireRole("clinician"))
	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}
}

func TestDevAuthMiddlewareGrantsAdmin(t *testing.T) {
	rec := doRequest(DevAuthMiddleware(), "", RequireRole("clinician"))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
