package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func claimsFor(sub string, exp time.Time) TokenClaims {
	return TokenClaims{
		Plan:   "free",
		Locale: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "tester",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "test-secret"
	claims := claimsFor("8d0c6a4e-2f5b-4c1e-9a7d-3b6f1e2a4c90", time.Now().Add(time.Hour))
	token, err := SignJWT(secret, claims)
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT(secret, token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if parsed.Subject != claims.Subject || parsed.Plan != claims.Plan || parsed.Locale != claims.Locale {
		t.Fatalf("VerifyJWT() returned %+v, want %+v", parsed, claims)
	}
}

func TestVerifyJWTInvalidSignature(t *testing.T) {
	token, err := SignJWT("secret-a", claimsFor("8d0c6a4e-2f5b-4c1e-9a7d-3b6f1e2a4c90", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret-b", token); err == nil {
		t.Fatalf("VerifyJWT() expected invalid signature error")
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	token, err := SignJWT("secret", claimsFor("8d0c6a4e-2f5b-4c1e-9a7d-3b6f1e2a4c90", time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret", token); err == nil {
		t.Fatalf("VerifyJWT() expected expiration error")
	}
}

func TestVerifyJWTRequiresSubject(t *testing.T) {
	token, err := SignJWT("secret", claimsFor("", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret", token); err == nil {
		t.Fatalf("VerifyJWT() expected missing subject error")
	}
}

func TestAuthJWTRejectsNonUUIDSubject(t *testing.T) {
	for _, sub := range []string{"user-9", "' or 1=1 --", "12345"} {
		token, err := SignJWT("secret", claimsFor(sub, time.Now().Add(time.Hour)))
		if err != nil {
			t.Fatalf("SignJWT() error: %v", err)
		}
		called := false
		h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || called {
			t.Fatalf("subject %q: code=%d called=%v", sub, rec.Code, called)
		}
	}
}

func TestAuthJWTSetsUserAndLocale(t *testing.T) {
	token, err := SignJWT("secret", claimsFor("3F2504E0-4F89-11D3-9A0C-0305E82C3301", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	var gotUser, gotLocale string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotUser != "3f2504e0-4f89-11d3-9a0c-0305e82c3301" || gotLocale != "id" {
		t.Fatalf("code=%d user=%q locale=%q", rec.Code, gotUser, gotLocale)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header code = %d", rec.Code)
	}
}
