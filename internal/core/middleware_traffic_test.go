package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"membergate/internal/config"
	"membergate/internal/types"
)

func newRateLimitedServer(t *testing.T, store RateLimitStore) *Server {
	t.Helper()
	srv := newTestServerForMiddleware(t)
	srv.Config = &config.Config{RateLimit: config.RateLimitConfig{SessionsPerWindow: 3, Window: 30 * time.Second}}
	srv.RateLimitStore = store
	return srv
}

func withActor(req *http.Request, userID string) *http.Request {
	return req.WithContext(types.WithActor(req.Context(), types.Actor{UserID: userID}))
}

func TestRateLimit_OnlyCountsAuthenticatedPosts(t *testing.T) {
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true}}
	srv := newRateLimitedServer(t, store)
	handler := srv.RateLimit(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), withActor(httptest.NewRequest(http.MethodGet, "/v1/billing/status", nil), "user_1"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))

	if len(store.Calls) != 0 {
		t.Errorf("expected no store calls, got %d", len(store.Calls))
	}
}

func TestRateLimit_NilStorePassesThrough(t *testing.T) {
	srv := newRateLimitedServer(t, nil)
	rec := httptest.NewRecorder()

	srv.RateLimit(okHandler()).ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", nil), "user_1"))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_AllowedSetsHeaders(t *testing.T) {
	reset := time.Now().Add(20 * time.Second)
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true, Remaining: 2, ResetAt: reset}}
	srv := newRateLimitedServer(t, store)
	rec := httptest.NewRecorder()

	srv.RateLimit(okHandler()).ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", nil), "user_1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.Calls) != 1 {
		t.Fatalf("expected one store call, got %d", len(store.Calls))
	}
	call := store.Calls[0]
	if call.Key != "sessions:user_1" || call.Limit != 3 || call.Window != 30*time.Second {
		t.Errorf("unexpected call %+v", call)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Errorf("X-RateLimit-Limit: expected 3, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("X-RateLimit-Remaining: expected 2, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("X-RateLimit-Reset: unexpected %q", got)
	}
}

func TestRateLimit_ExceededReturns429(t *testing.T) {
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: false, ResetAt: time.Now().Add(15 * time.Second)}}
	srv := newRateLimitedServer(t, store)
	rec := httptest.NewRecorder()

	srv.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run when rate limited")
	})).ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/identity", nil), "user_1"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 15 {
		t.Errorf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
	if code := decodeErrorBody(t, rec).Code; code != string(types.ErrCodeRateLimit) {
		t.Errorf("expected rate limit code, got %q", code)
	}
}

func TestRateLimit_RetryAfterAtLeastOneSecond(t *testing.T) {
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: false, ResetAt: time.Now().Add(-time.Second)}}
	srv := newRateLimitedServer(t, store)
	rec := httptest.NewRecorder()

	srv.RateLimit(okHandler()).ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", nil), "user_1"))

	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	store := &MockRateLimitStore{Err: errors.New("connection refused")}
	srv := newRateLimitedServer(t, store)
	rec := httptest.NewRecorder()

	srv.RateLimit(okHandler()).ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", nil), "user_1"))

	if rec.Code != http.StatusOK {
		t.Errorf("expected fail-open 200, got %d", rec.Code)
	}
}

func TestRateLimit_DefaultsWithoutConfig(t *testing.T) {
	store := &MockRateLimitStore{IncrementAndCheckFunc: func(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
		return RateLimitResult{Allowed: true, Remaining: limit - 1}, nil
	}}
	srv := newTestServerForMiddleware(t)
	srv.RateLimitStore = store

	srv.RateLimit(okHandler()).ServeHTTP(httptest.NewRecorder(), withActor(httptest.NewRequest(http.MethodPost, "/v1/billing/portal", nil), "user_2"))

	if len(store.Calls) != 1 {
		t.Fatalf("expected one call, got %d", len(store.Calls))
	}
	if store.Calls[0].Limit != defaultRateLimitMax || store.Calls[0].Window != defaultRateLimitWindow {
		t.Errorf("expected defaults, got %+v", store.Calls[0])
	}
}
