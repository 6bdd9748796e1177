package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestRateLimit_LoginAllowsUnderLimitAndKeepsBody(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(LoginRateLimit(time.Minute, 2, 2), store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"email":"shopper@example.com"`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"shopper@example.com","password":"secret"}`))
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for scope := range store.counts {
		if strings.Contains(scope, "shopper@example.com") {
			t.Fatalf("email must be hashed in counter scope %q", scope)
		}
	}
}

func TestRateLimit_EmailLimitIgnoresCaseAndAddress(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(LoginRateLimit(time.Minute, 0, 2), store, nil)(okHandler())

	emails := []string{"blocked@example.com", " Blocked@Example.com", "BLOCKED@example.com"}
	for i, email := range emails {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"`+email+`","password":"secret"}`))
		req.RemoteAddr = fmt.Sprintf("10.0.0.%d:5678", i+1)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i < 2 {
			if rec.Code != http.StatusOK {
				t.Fatalf("attempt %d: expected success before limit, got %d", i, rec.Code)
			}
			continue
		}
		assertRateLimited(t, rec, 60)
	}
}

func TestRateLimit_RegisterIPLimit(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(RegisterRateLimit(time.Minute, 1, 0), store, nil)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(fmt.Sprintf(`{"email":"new%d@example.com"}`, i)))
		req.Header.Set("X-Forwarded-For", "5.6.7.8, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("expected success, got %d", rec.Code)
		}
		if i == 1 {
			assertRateLimited(t, rec, 60)
		}
	}
	if store.counts["register:ip:5.6.7.8"] != 2 {
		t.Fatalf("expected the first forwarded address to be counted, got %v", store.counts)
	}
}

func TestRateLimit_CheckoutCountsPerUser(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(CheckoutRateLimit(30*time.Second, 1), store, nil)(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{}`))
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("user-a"); code != http.StatusOK {
		t.Fatalf("first checkout: expected 200, got %d", code)
	}
	if code := send("user-b"); code != http.StatusOK {
		t.Fatalf("another user must have its own budget, got %d", code)
	}
	if code := send("user-a"); code != http.StatusTooManyRequests {
		t.Fatalf("second checkout for user-a: expected 429, got %d", code)
	}
}

func TestRateLimit_DisabledPolicyPassesThrough(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(CheckoutRateLimit(0, 1), store, nil)(okHandler())
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", rec.Code)
		}
	}
	if len(store.counts) != 0 {
		t.Fatalf("disabled policy must not touch the store: %v", store.counts)
	}
}

func assertRateLimited(t *testing.T, rec *httptest.ResponseRecorder, retryAfter int) {
	t.Helper()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != strconv.Itoa(retryAfter) {
		t.Fatalf("expected Retry-After %d, got %q", retryAfter, got)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
		t.Fatalf("unexpected code: %s", payload.Error.Code)
	}
}

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}
