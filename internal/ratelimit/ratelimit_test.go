package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Errorf("Expected fourth request to be rejected")
	}
}

func TestAllowSeparatesAddresses(t *testing.T) {
	rl := New(1, time.Minute)
	if !rl.Allow("1.1.1.1") {
		t.Fatalf("Expected first address to be allowed")
	}
	if !rl.Allow("2.2.2.2") {
		t.Errorf("Expected second address to have its own window")
	}
	if rl.Allow("1.1.1.1") {
		t.Errorf("Expected first address to be over its limit")
	}
}

func TestAllowZeroLimitRejectsAll(t *testing.T) {
	rl := New(0, time.Minute)
	if rl.Allow("1.2.3.4") {
		t.Errorf("Expected zero limit to reject every request")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	handler := Middleware(New(1, time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", second.Code)
	}
}
