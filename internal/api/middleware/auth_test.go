package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация RSA ключа: %v", err)
	}
	return key
}

// generateTestToken подписывает JWT с указанными claims.
func generateTestToken(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с локальным RSA ключом.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey, issuer string) *JWTAuth {
	t.Helper()
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		t.Fatalf("создание keyfunc из JWKS JSON: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, issuer, logger)
}

// authProbe возвращает handler, записывающий владельца из контекста.
func authProbe(gotOwner *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotOwner = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func validClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

// TestJWTAuth_ValidToken проверяет валидный JWT: sub становится владельцем.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")
	token := generateTestToken(t, key, validClaims("user-42"))

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/downloads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200; тело: %s", rec.Code, rec.Body.String())
	}
	if owner != "user-42" {
		t.Errorf("владелец = %q, ожидался user-42", owner)
	}
}

// TestJWTAuth_MissingHeader проверяет отказ без заголовка Authorization.
func TestJWTAuth_MissingHeader(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/downloads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
}

// TestJWTAuth_InvalidFormat проверяет отказ при неверном формате заголовка.
func TestJWTAuth_InvalidFormat(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")

	tests := []string{
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"Bearer ",
		"token-without-scheme",
	}

	for _, header := range tests {
		var owner string
		handler := auth.Middleware()(authProbe(&owner))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("заголовок %q: статус = %d, ожидался 401", header, rec.Code)
		}
	}
}

// TestJWTAuth_ExpiredToken проверяет отказ на просроченном токене.
func TestJWTAuth_ExpiredToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")

	token := generateTestToken(t, key, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
	})

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
}

// TestJWTAuth_MissingSubject проверяет отказ на токене без sub.
func TestJWTAuth_MissingSubject(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")
	token := generateTestToken(t, key, validClaims(""))

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
}

// TestJWTAuth_IssuerMismatch проверяет отказ при неожиданном issuer.
func TestJWTAuth_IssuerMismatch(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "https://idp.example.com/realms/main")

	claims := validClaims("user-42")
	claims.Issuer = "https://rogue.example.com"
	token := generateTestToken(t, key, claims)

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
}

// TestJWTAuth_WrongKey проверяет отказ на токене, подписанном чужим ключом.
func TestJWTAuth_WrongKey(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key, "")
	token := generateTestToken(t, otherKey, validClaims("user-42"))

	var owner string
	handler := auth.Middleware()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401", rec.Code)
	}
}

// TestHeaderAuth проверяет режим без JWT: владелец из X-Owner-Id.
func TestHeaderAuth(t *testing.T) {
	var owner string
	handler := HeaderAuth()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeader, "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if owner != "alice" {
		t.Errorf("владелец = %q, ожидался alice", owner)
	}
}

// TestHeaderAuth_Default проверяет владельца по умолчанию без заголовка.
func TestHeaderAuth_Default(t *testing.T) {
	var owner string
	handler := HeaderAuth()(authProbe(&owner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if owner != "local" {
		t.Errorf("владелец = %q, ожидался local", owner)
	}
}
