package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type checkoutFunc func(ctx context.Context, userID uuid.UUID, input checkout.Input) (*checkout.Result, error)

func (f checkoutFunc) Checkout(ctx context.Context, userID uuid.UUID, input checkout.Input) (*checkout.Result, error) {
	return f(ctx, userID, input)
}

type stubOrderService struct {
	getFn    func(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error)
	listFn   func(ctx context.Context, actor ordersvc.Actor, params pagination.Params) (*pagination.Page[ordersvc.OrderDTO], error)
	updateFn func(ctx context.Context, actor ordersvc.Actor, id uuid.UUID, to enums.OrderStatus) (*ordersvc.OrderDTO, error)
	cancelFn func(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error)
}

func (s stubOrderService) Get(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error) {
	return s.getFn(ctx, actor, id)
}

func (s stubOrderService) List(ctx context.Context, actor ordersvc.Actor, params pagination.Params) (*pagination.Page[ordersvc.OrderDTO], error) {
	return s.listFn(ctx, actor, params)
}

func (s stubOrderService) UpdateStatus(ctx context.Context, actor ordersvc.Actor, id uuid.UUID, to enums.OrderStatus) (*ordersvc.OrderDTO, error) {
	return s.updateFn(ctx, actor, id, to)
}

func (s stubOrderService) Cancel(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error) {
	return s.cancelFn(ctx, actor, id)
}

func actorRequest(method, target, body string, userID uuid.UUID, role enums.UserRole) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithRole(ctx, string(role))
	return req.WithContext(ctx)
}

func withOrderID(req *http.Request, id uuid.UUID) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("orderId", id.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCheckoutCreatedThenReplayed(t *testing.T) {
	userID, cartID := uuid.New(), uuid.New()
	order := &models.Order{ID: uuid.New(), UserID: userID, CartID: cartID, Status: enums.OrderStatusPendingPayment}
	calls := 0
	svc := checkoutFunc(func(ctx context.Context, gotUser uuid.UUID, input checkout.Input) (*checkout.Result, error) {
		calls++
		if gotUser != userID || input.CartID != cartID || input.IdempotencyKey != "key-1" {
			t.Fatalf("unexpected input %+v", input)
		}
		return &checkout.Result{Order: order, Replayed: calls > 1}, nil
	})

	body := `{"cart_id":"` + cartID.String() + `"}`
	req := actorRequest(http.MethodPost, "/v1/orders", body, userID, enums.UserRoleCustomer)
	req.Header.Set("Idempotency-Key", "key-1")
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}

	var envelope struct {
		Data ordersvc.OrderDTO `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.ID != order.ID {
		t.Fatalf("unexpected order %s", envelope.Data.ID)
	}

	body = `{"cart_id":"` + cartID.String() + `","idempotency_key":"key-1"}`
	req = actorRequest(http.MethodPost, "/v1/orders", body, userID, enums.UserRoleCustomer)
	resp = httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay got %d", resp.Code)
	}
}

func TestCheckoutRejectsMismatchedKeys(t *testing.T) {
	svc := checkoutFunc(func(ctx context.Context, userID uuid.UUID, input checkout.Input) (*checkout.Result, error) {
		t.Fatalf("checkout should not run")
		return nil, nil
	})
	body := `{"cart_id":"` + uuid.NewString() + `","idempotency_key":"a"}`
	req := actorRequest(http.MethodPost, "/v1/orders", body, uuid.New(), enums.UserRoleCustomer)
	req.Header.Set("Idempotency-Key", "b")
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCheckoutSurfacesPriceMismatch(t *testing.T) {
	svc := checkoutFunc(func(ctx context.Context, userID uuid.UUID, input checkout.Input) (*checkout.Result, error) {
		return nil, pkgerrors.New(pkgerrors.CodePriceMismatch, "prices changed")
	})
	body := `{"cart_id":"` + uuid.NewString() + `"}`
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, actorRequest(http.MethodPost, "/v1/orders", body, uuid.New(), enums.UserRoleCustomer))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListPassesActor(t *testing.T) {
	userID := uuid.New()
	svc := stubOrderService{
		listFn: func(ctx context.Context, actor ordersvc.Actor, params pagination.Params) (*pagination.Page[ordersvc.OrderDTO], error) {
			if actor.UserID != userID || actor.IsAdmin() {
				t.Fatalf("unexpected actor %+v", actor)
			}
			if params.Limit != pagination.DefaultLimit {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return &pagination.Page[ordersvc.OrderDTO]{}, nil
		},
	}
	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, actorRequest(http.MethodGet, "/v1/orders", "", userID, enums.UserRoleCustomer))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestDetailHidesForeignOrders(t *testing.T) {
	id := uuid.New()
	svc := stubOrderService{
		getFn: func(ctx context.Context, actor ordersvc.Actor, got uuid.UUID) (*ordersvc.OrderDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}
	req := withOrderID(actorRequest(http.MethodGet, "/", "", uuid.New(), enums.UserRoleCustomer), id)
	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestUpdateStatusValidatesTarget(t *testing.T) {
	id := uuid.New()
	svc := stubOrderService{
		updateFn: func(ctx context.Context, actor ordersvc.Actor, got uuid.UUID, to enums.OrderStatus) (*ordersvc.OrderDTO, error) {
			if to != enums.OrderStatusFulfilled || !actor.IsAdmin() {
				t.Fatalf("unexpected update %s %+v", to, actor)
			}
			return &ordersvc.OrderDTO{ID: got, Status: to}, nil
		},
	}
	req := withOrderID(actorRequest(http.MethodPut, "/", `{"status":"paid"}`, uuid.New(), enums.UserRoleAdmin), id)
	resp := httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req = withOrderID(actorRequest(http.MethodPut, "/", `{"status":"fulfilled"}`, uuid.New(), enums.UserRoleAdmin), id)
	resp = httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestCancelPaidOrderConflicts(t *testing.T) {
	id := uuid.New()
	svc := stubOrderService{
		cancelFn: func(ctx context.Context, actor ordersvc.Actor, got uuid.UUID) (*ordersvc.OrderDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "cannot cancel paid order")
		},
	}
	req := withOrderID(actorRequest(http.MethodDelete, "/", "", uuid.New(), enums.UserRoleCustomer), id)
	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}
