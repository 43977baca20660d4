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
const testKeyID = "test-key-ac"

const testIssuer = "https://auth.storefront.test"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с JWKS из одного тестового ключа.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// userClaims возвращает claims валидного токена покупателя.
func userClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "alice",
		"email":              "alice@storefront.test",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
}

func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("claims не найдены в контексте")
		}
		if claims.Subject != "user-123" {
			t.Errorf("ожидался sub=user-123, получен %s", claims.Subject)
		}
		if claims.PreferredUsername != "alice" {
			t.Errorf("ожидался username=alice, получен %s", claims.PreferredUsername)
		}
		if claims.Email != "alice@storefront.test" {
			t.Errorf("ожидался email=alice@storefront.test, получен %s", claims.Email)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles/user/user-123/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, userClaims("user-123")))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	expired := userClaims("user-123")
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExp := userClaims("user-123")
	delete(noExp, "exp")

	wrongIssuer := userClaims("user-123")
	wrongIssuer["iss"] = "https://other.test"

	noSubject := userClaims("")

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса bearer", "token123"},
		{"пустой bearer", "Bearer "},
		{"мусор вместо токена", "Bearer not.a.jwt"},
		{"просроченный", "Bearer " + signToken(t, key, expired)},
		{"без exp", "Bearer " + signToken(t, key, noExp)},
		{"чужой issuer", "Bearer " + signToken(t, key, wrongIssuer)},
		{"без sub", "Bearer " + signToken(t, key, noSubject)},
		{"чужой ключ", "Bearer " + signToken(t, otherKey, userClaims("user-123"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

func TestJWTAuth_HS256Rejected(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, userClaims("user-123"))
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if claims := ClaimsFromContext(req.Context()); claims != nil {
		t.Errorf("ожидался nil, получен %+v", claims)
	}
	if sub := SubjectFromContext(req.Context()); sub != "" {
		t.Errorf("ожидалась пустая строка, получено %q", sub)
	}
}

func TestSubjectFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithClaims(req.Context(), &AuthClaims{Subject: "user-42"})
	if sub := SubjectFromContext(ctx); sub != "user-42" {
		t.Errorf("ожидался user-42, получен %q", sub)
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)

	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"ключи есть", http.StatusOK, string(buildJWKSetJSON(&key.PublicKey, testKeyID)), statusOK},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, statusDegraded},
		{"невалидный JSON", http.StatusOK, `{`, statusDegraded},
		{"ошибка сервера", http.StatusInternalServerError, ``, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker, err := NewJWKSReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatal(err)
			}

			status, msg := checker.CheckReady()
			if status != tt.expected {
				t.Errorf("CheckReady() = %q (%s), ожидался %q", status, msg, tt.expected)
			}
		})
	}
}

func TestJWKSReadinessChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	checker, err := NewJWKSReadinessChecker(url, "", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := checker.CheckReady(); status != statusFail {
		t.Errorf("CheckReady() = %q, ожидался %q", status, statusFail)
	}
}

func TestNewJWKSReadinessChecker_BadCA(t *testing.T) {
	if _, err := NewJWKSReadinessChecker("https://auth.test/jwks", "/nonexistent/ca.pem", time.Second); err == nil {
		t.Error("ожидалась ошибка для несуществующего CA-файла")
	}
}
