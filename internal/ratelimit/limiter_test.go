package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	l := New(2, time.Minute, false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := l.Middleware(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := New(1, time.Minute, false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := l.Middleware(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request expected 429, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rejection")
	}
}

func TestPeerKeyIsolatesDifferentRemoteAddrs(t *testing.T) {
	l := New(1, time.Minute, false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := l.Middleware(ok)

	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1.RemoteAddr = "10.0.0.3:1111"
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.4:2222"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Errorf("expected distinct peers to each get their own allowance: %d, %d", rec1.Code, rec2.Code)
	}
}

func TestCleanupIdleRemovesStaleBuckets(t *testing.T) {
	l := New(1, time.Minute, false)
	l.bucketFor("peer-a")
	l.buckets["peer-a"].lastSeenAt = time.Now().Add(-time.Hour)

	removed := l.CleanupIdle()
	if removed != 1 {
		t.Errorf("expected 1 idle bucket removed, got %d", removed)
	}
}
