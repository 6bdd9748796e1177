package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

func (m *memoryRedis) Ping(context.Context) error {
	return nil
}

type stubProducts struct{}

func (stubProducts) CreateProduct(ctx context.Context, input product.CreateProductInput) (*product.ProductDTO, error) {
	return &product.ProductDTO{ID: uuid.New(), SKU: input.SKU}, nil
}

func (stubProducts) UpdateProduct(ctx context.Context, id uuid.UUID, input product.UpdateProductInput) (*product.ProductDTO, error) {
	return &product.ProductDTO{ID: id}, nil
}

func (stubProducts) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (stubProducts) GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*product.ProductDTO, error) {
	return &product.ProductDTO{ID: id}, nil
}

func (stubProducts) ListProducts(ctx context.Context, params pagination.Params, includeInactive bool) (*pagination.Page[product.ProductDTO], error) {
	return &pagination.Page[product.ProductDTO]{}, nil
}

type stubPayments struct {
	mu    sync.Mutex
	calls int
}

func (s *stubPayments) Initiate(ctx context.Context, userID, orderID uuid.UUID) (*payments.InitiateResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &payments.InitiateResult{Payment: payments.PaymentDTO{ID: uuid.New(), OrderID: orderID}}, nil
}

func (s *stubPayments) Get(ctx context.Context, userID uuid.UUID, admin bool, id uuid.UUID) (*payments.PaymentDTO, error) {
	return &payments.PaymentDTO{ID: id}, nil
}

func (s *stubPayments) List(ctx context.Context, userID uuid.UUID, admin bool, params pagination.Params) (*pagination.Page[payments.PaymentDTO], error) {
	return &pagination.Page[payments.PaymentDTO]{}, nil
}

type stubReconciler struct{}

func (stubReconciler) ApplyPaymentEvent(ctx context.Context, ev payments.PaymentEvent) (*payments.PaymentApplicationResult, error) {
	return &payments.PaymentApplicationResult{ProviderTxID: ev.ProviderTxID, Disposition: enums.EventDispositionApplied}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 60},
	}
}

func newTestRouter(t *testing.T, pay *stubPayments) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	deps := Dependencies{
		DB:         stubPinger{},
		Redis:      newMemoryRedis(),
		Gatherer:   reg,
		Metrics:    metrics.NewHTTPMetrics(reg),
		Products:   stubProducts{},
		Payments:   pay,
		Reconciler: stubReconciler{},
	}
	return NewRouter(cfg, logger.New(logger.Options{ServiceName: "test"}), deps), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "user@example.com",
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "http_request") {
		t.Fatalf("expected http metrics in exposition")
	}
}

func TestPublicCatalogRoutes(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestPrivateRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/cart"},
		{http.MethodGet, "/v1/orders"},
		{http.MethodGet, "/v1/payments"},
		{http.MethodPost, "/v1/products"},
	} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(tc.method, tc.path, nil))
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	router, cfg := newTestRouter(t, &stubPayments{})
	body := `{"sku":"SKU-1","name":"Widget","price_cents":100,"available_qty":1}`

	req := httptest.NewRequest(http.MethodPost, "/v1/products", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/products", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, cfg, enums.UserRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
}

func TestPaymentInitiationIsIdempotent(t *testing.T) {
	pay := &stubPayments{}
	router, cfg := newTestRouter(t, pay)
	auth := bearer(t, cfg, enums.UserRoleCustomer)
	body := `{"order_id":"` + uuid.NewString() + `"}`

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(body))
	req.Header.Set("Authorization", auth)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", resp.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(body))
		req.Header.Set("Authorization", auth)
		req.Header.Set("Idempotency-Key", "pay-1")
		resp = httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d", i, resp.Code)
		}
	}
	if pay.calls != 1 {
		t.Fatalf("expected a single initiation, got %d", pay.calls)
	}
}

func TestWebhookIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})
	body := `{"provider_tx_id":"tx-1","order_id":"` + uuid.NewString() + `","amount_cents":100,"outcome":"succeeded"}`
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{LoginWindow: time.Minute, LoginIPLimit: 1}
	router := NewRouter(cfg, nil, Dependencies{Redis: newMemoryRedis()})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"a@b.co","password":"pw"}`))
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second login to be throttled, got %v", codes)
	}
}

func TestCheckoutIsRateLimitedPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{CheckoutWindow: time.Minute, CheckoutUserLimit: 1}
	router := NewRouter(cfg, nil, Dependencies{Redis: newMemoryRedis()})
	auth := bearer(t, cfg, enums.UserRoleCustomer)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{}`))
		req.Header.Set("Authorization", auth)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] == http.StatusTooManyRequests || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected only the second checkout to be throttled, got %v", codes)
	}
}

func TestUnknownRouteAndMethodUseErrorEnvelope(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})
	cases := []struct {
		method string
		path   string
		status int
		code   string
	}{
		{http.MethodGet, "/v1/nope", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/v1/products/" + uuid.NewString() + "/reviews", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodPatch, "/v1/products", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodDelete, "/v1/auth/login", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(tc.method, tc.path, nil))
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
			if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Fatalf("expected JSON body, got content type %q", ct)
			}
			var envelope struct {
				Error struct {
					Code      string `json:"code"`
					RequestID string `json:"request_id"`
				} `json:"error"`
			}
			if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode: %v body=%s", err, resp.Body.String())
			}
			if envelope.Error.Code != tc.code || envelope.Error.RequestID == "" {
				t.Fatalf("unexpected envelope %+v", envelope.Error)
			}
		})
	}
}

func TestResponsesCarrySecurityHeaders(t *testing.T) {
	router, _ := newTestRouter(t, &stubPayments{})
	for _, path := range []string{"/health/live", "/v1/does-not-exist"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Header().Get("X-Content-Type-Options") != "nosniff" || resp.Header().Get("X-Frame-Options") != "DENY" {
			t.Fatalf("%s: missing security headers %v", path, resp.Header())
		}
		if resp.Header().Get("Strict-Transport-Security") != "" {
			t.Fatalf("%s: hsts must be off outside production", path)
		}
	}
}
