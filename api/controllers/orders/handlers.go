package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const idempotencyHeader = "Idempotency-Key"

// CheckoutService places orders from carts.
type CheckoutService interface {
	Checkout(ctx context.Context, userID uuid.UUID, input checkout.Input) (*checkout.Result, error)
}

// Service is the order query and lifecycle surface.
type Service interface {
	Get(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error)
	List(ctx context.Context, actor ordersvc.Actor, params pagination.Params) (*pagination.Page[ordersvc.OrderDTO], error)
	UpdateStatus(ctx context.Context, actor ordersvc.Actor, id uuid.UUID, to enums.OrderStatus) (*ordersvc.OrderDTO, error)
	Cancel(ctx context.Context, actor ordersvc.Actor, id uuid.UUID) (*ordersvc.OrderDTO, error)
}

type checkoutRequest struct {
	CartID         uuid.UUID `json:"cart_id" validate:"required"`
	IdempotencyKey string    `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type updateStatusRequest struct {
	Status enums.OrderStatus `json:"status" validate:"required,oneof=cancelled fulfilled"`
}

// Checkout converts the cart into an order. Replays of a key answer 200 with
// the original order.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(req.IdempotencyKey)
		header := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		switch {
		case key == "":
			key = header
		case header != "" && header != key:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key header does not match body"))
			return
		}

		result, err := svc.Checkout(r.Context(), actor.UserID, checkout.Input{CartID: req.CartID, IdempotencyKey: key})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, ordersvc.NewOrderDTO(*result.Order))
	}
}

// List returns the caller's orders, or every order for admins.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one order visible to the caller.
func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		actor, id, err := orderScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// UpdateStatus cancels or fulfils an order.
func UpdateStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		actor, id, err := orderScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.UpdateStatus(r.Context(), actor, id, req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// Cancel cancels an unpaid order.
func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		actor, id, err := orderScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Cancel(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func requireActor(r *http.Request) (ordersvc.Actor, error) {
	userID, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return ordersvc.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return ordersvc.Actor{UserID: userID, Role: role}, nil
}

func orderScope(r *http.Request) (ordersvc.Actor, uuid.UUID, error) {
	actor, err := requireActor(r)
	if err != nil {
		return ordersvc.Actor{}, uuid.Nil, err
	}
	id, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return ordersvc.Actor{}, uuid.Nil, err
	}
	return actor, id, nil
}
