package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"calls": {RatePerSecond: 1, Burst: 1}}, nil)
	handler := limiter.Middleware("calls")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/transfer", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterKeysByAccount(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"calls": {RatePerSecond: 1, Burst: 1}}, nil)
	handler := limiter.Middleware("calls")(okHandler())

	for _, account := range []string{"alice.ledger", "bob.ledger"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/calls/transfer", nil)
		req.Header.Set("X-Peleon-Account", account)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected separate bucket, got %d", account, res.Code)
		}
	}
}

func TestRateLimiterSeparatesGroups(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"calls":    {RatePerSecond: 1, Burst: 1},
		"operator": {RatePerSecond: 1, Burst: 1},
	}, nil)
	calls := limiter.Middleware("calls")(okHandler())
	operator := limiter.Middleware("operator")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/intents", nil)

	for name, h := range map[string]http.Handler{"calls": calls, "operator": operator} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected first request to succeed, got %d", name, res.Code)
		}
	}
}

func TestRateLimiterIgnoresUnknownGroup(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("unknown")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", res.Code)
		}
	}
}
