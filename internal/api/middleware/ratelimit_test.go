package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(0, 10)
	if l != nil {
		t.Fatal("ожидался nil limiter при rps=0")
	}

	handler := l.Middleware()(okHandler())
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("запрос %d: статус %d", i, rec.Code)
		}
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(1, 2)
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }
	handler := l.Middleware()(okHandler())

	do := func(sub string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/roles/user/u/r", nil)
		req = req.WithContext(WithClaims(req.Context(), &AuthClaims{Subject: sub}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// burst = 2
	if code := do("admin-1"); code != http.StatusOK {
		t.Fatalf("1-й запрос: %d", code)
	}
	if code := do("admin-1"); code != http.StatusOK {
		t.Fatalf("2-й запрос: %d", code)
	}
	if code := do("admin-1"); code != http.StatusTooManyRequests {
		t.Fatalf("3-й запрос: %d, ожидался 429", code)
	}

	// Другой клиент — отдельный bucket
	if code := do("admin-2"); code != http.StatusOK {
		t.Fatalf("другой клиент: %d", code)
	}

	// Через секунду токен восстанавливается
	frozen = frozen.Add(time.Second)
	if code := do("admin-1"); code != http.StatusOK {
		t.Fatalf("после паузы: %d", code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:43211"
	if key := clientKey(req); key != "ip:10.0.0.5" {
		t.Errorf("clientKey = %q, ожидался ip:10.0.0.5", key)
	}

	req = req.WithContext(WithClaims(req.Context(), &AuthClaims{Subject: "u-1"}))
	if key := clientKey(req); key != "sub:u-1" {
		t.Errorf("clientKey = %q, ожидался sub:u-1", key)
	}
}
