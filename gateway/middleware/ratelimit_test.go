package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	var throttled []string
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil, func(reason string) {
		throttled = append(throttled, reason)
	})
	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
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
	if len(throttled) != 1 || throttled[0] != "rate_limit" {
		t.Fatalf("unexpected throttle callbacks %v", throttled)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil, nil)
	handler := limiter.Middleware()(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	reqA.Header.Set("X-Forwarded-For", "10.0.0.1, 192.168.0.1")
	reqB := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	reqB = reqB.WithContext(WithSubject(reqB.Context(), "bob.testnet"))

	for name, req := range map[string]*http.Request{"forwarded": reqA, "subject": reqB} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected first request to succeed, got %d", name, res.Code)
		}
	}
	if clientID(reqA) != "10.0.0.1" {
		t.Fatalf("unexpected forwarded client id %q", clientID(reqA))
	}
	if clientID(reqB) != "sub:bob.testnet" {
		t.Fatalf("unexpected subject client id %q", clientID(reqB))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, nil, nil)
	handler := limiter.Middleware()(okHandler())
	for i := 0; i < 10; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/rpc", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a")
	limiter.obtainLimiter("b")
	if limiter.visitorCount() != 2 {
		t.Fatalf("expected 2 visitors")
	}
	now = now.Add(2 * visitorIdleTTL)
	limiter.obtainLimiter("c")
	if limiter.visitorCount() != 1 {
		t.Fatalf("expected idle visitors evicted, have %d", limiter.visitorCount())
	}
}
