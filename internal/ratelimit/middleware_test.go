package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.GlobalEnabled {
		t.Error("global limiting should be enabled by default")
	}
	if cfg.GlobalLimit != 1000 {
		t.Errorf("global limit = %d, want 1000", cfg.GlobalLimit)
	}
	if !cfg.PerIPEnabled {
		t.Error("per-IP limiting should be enabled by default")
	}
	if cfg.PerIPLimit != 120 {
		t.Errorf("per-IP limit = %d, want 120", cfg.PerIPLimit)
	}
}

func TestGlobalLimiterDisabled(t *testing.T) {
	handler := GlobalLimiter(Config{GlobalEnabled: false})(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestGlobalLimiterRejectsOverLimit(t *testing.T) {
	cfg := Config{GlobalEnabled: true, GlobalLimit: 3, GlobalWindow: time.Minute}
	handler := GlobalLimiter(cfg)(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	var body rateLimitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" || body.RetryAfterSeconds != 60 {
		t.Errorf("body = %+v", body)
	}
}

func TestIPLimiterIsolatesClients(t *testing.T) {
	cfg := Config{PerIPEnabled: true, PerIPLimit: 2, PerIPWindow: time.Minute}
	handler := IPLimiter(cfg)(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("first client request %d: status = %d", i, code)
		}
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("first client over limit: status = %d, want 429", code)
	}

	// A different IP keeps its own budget.
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("second client: status = %d, want 200", code)
	}
}
