package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRateLimiter(t *testing.T, maxReqs, windowSec int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, "chat", maxReqs, windowSec), mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, remoteAddr string, headers map[string]string) int {
	req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 3, 60)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		if code := send(handler, "10.0.0.1:12345", nil); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}

	req := httptest.NewRequest("POST", "/api/v1/chat/message", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After: 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := setupRateLimiter(t, 2, 60)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		send(handler, "1.1.1.1:1", nil)
	}
	if code := send(handler, "1.1.1.1:1", nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected IP 1 to be blocked, got %d", code)
	}
	if code := send(handler, "2.2.2.2:1", nil); code != http.StatusOK {
		t.Fatalf("expected IP 2 to be allowed, got %d", code)
	}
}

func TestRateLimiter_ForwardedFor(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1, 60)
	handler := rl.Middleware(okHandler())

	xff := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}
	if code := send(handler, "10.0.0.2:1", xff); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(handler, "10.0.0.3:1", xff); code != http.StatusTooManyRequests {
		t.Fatalf("expected the forwarded client to be limited, got %d", code)
	}
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1, 60)
	handler := rl.Middleware(okHandler())
	mr.Close()

	for i := 0; i < 3; i++ {
		if code := send(handler, "10.0.0.9:1", nil); code != http.StatusOK {
			t.Fatalf("request %d: expected fail-open 200, got %d", i+1, code)
		}
	}
}

func TestRateLimiter_RejectedRequestsNotRecorded(t *testing.T) {
	rl, mr := setupRateLimiter(t, 2, 60)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		send(handler, "10.0.0.5:1", nil)
	}

	members, err := mr.ZMembers("ratelimit:chat:10.0.0.5")
	if err != nil {
		t.Fatalf("reading window: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", len(members))
	}
	if ttl := mr.TTL("ratelimit:chat:10.0.0.5"); ttl <= 0 {
		t.Fatalf("expected the window key to expire, got ttl %v", ttl)
	}
}
