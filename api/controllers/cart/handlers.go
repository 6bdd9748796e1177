package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Service is the cart surface the handlers depend on.
type Service interface {
	CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	GetCart(ctx context.Context, userID, cartID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID, cartID uuid.UUID, input cartsvc.AddItemInput) (*models.Cart, error)
	UpdateItem(ctx context.Context, userID, cartID, itemID uuid.UUID, quantity int64, expectedVersion *int64) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, cartID, itemID uuid.UUID, expectedVersion *int64) (*models.Cart, error)
	Clear(ctx context.Context, userID, cartID uuid.UUID, expectedVersion *int64) (*models.Cart, error)
}

// PriceResolver looks up the current catalog price of a product.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, id uuid.UUID) (int64, error)
}

type addItemRequest struct {
	ProductID       uuid.UUID `json:"product_id" validate:"required"`
	Quantity        int64     `json:"quantity" validate:"gt=0"`
	ExpectedVersion *int64    `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

type updateItemRequest struct {
	Quantity        int64  `json:"quantity" validate:"gte=0"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

// Create opens a new active cart for the caller.
func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.CreateCart(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusCreated, c)
	}
}

// Get returns the caller's cart.
func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, cartID, err := cartScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.GetCart(r.Context(), userID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, c)
	}
}

// AddItem snapshots the current catalog price and adds the line.
func AddItem(svc Service, prices PriceResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || prices == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, cartID, err := cartScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req addItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expected, err := expectedVersion(r, req.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		price, err := prices.ResolvePrice(r.Context(), req.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.AddItem(r.Context(), userID, cartID, cartsvc.AddItemInput{
			ProductID:       req.ProductID,
			Quantity:        req.Quantity,
			UnitPriceCents:  price,
			ExpectedVersion: expected,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, c)
	}
}

// UpdateItem sets a line quantity. Zero removes the line.
func UpdateItem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, cartID, err := cartScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expected, err := expectedVersion(r, req.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.UpdateItem(r.Context(), userID, cartID, itemID, req.Quantity, expected)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, c)
	}
}

// RemoveItem deletes a line from the cart.
func RemoveItem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, cartID, err := cartScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expected, err := expectedVersion(r, nil)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.RemoveItem(r.Context(), userID, cartID, itemID, expected)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, c)
	}
}

// Clear removes every line from the cart.
func Clear(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, cartID, err := cartScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expected, err := expectedVersion(r, nil)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.Clear(r.Context(), userID, cartID, expected)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, c)
	}
}

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID, _, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

func cartScope(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := requireUser(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	cartID, err := validators.ParseUUIDParam(r, "cartId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, cartID, nil
}

// expectedVersion prefers If-Match over the body field.
func expectedVersion(r *http.Request, fromBody *int64) (*int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return fromBody, nil
	}
	version, err := cartsvc.ParseETag(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid If-Match header")
	}
	return &version, nil
}

func writeCart(w http.ResponseWriter, status int, c *models.Cart) {
	w.Header().Set("ETag", cartsvc.ETag(c.Version))
	responses.WriteSuccessStatus(w, status, cartsvc.NewView(c))
}
