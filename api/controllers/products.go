package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	maxProductNameLen        = 200
	maxProductDescriptionLen = 4000
	maxProductSKULen         = 64
)

// ProductService is the catalog surface used by the product routes.
type ProductService interface {
	CreateProduct(ctx context.Context, input product.CreateProductInput) (*product.ProductDTO, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, input product.UpdateProductInput) (*product.ProductDTO, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*product.ProductDTO, error)
	ListProducts(ctx context.Context, params pagination.Params, includeInactive bool) (*pagination.Page[product.ProductDTO], error)
}

type createProductRequest struct {
	SKU          string  `json:"sku" validate:"required,max=64,sku"`
	Name         string  `json:"name" validate:"required,max=200"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=4000"`
	PriceCents   int64   `json:"price_cents" validate:"gte=0"`
	AvailableQty int64   `json:"available_qty" validate:"gte=0"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

func (r createProductRequest) toInput() product.CreateProductInput {
	return product.CreateProductInput{
		SKU:          validators.SanitizeString(r.SKU, maxProductSKULen),
		Name:         validators.SanitizeString(r.Name, maxProductNameLen),
		Description:  sanitizeOptional(r.Description, maxProductDescriptionLen),
		PriceCents:   r.PriceCents,
		AvailableQty: r.AvailableQty,
		IsActive:     r.IsActive,
	}
}

type updateProductRequest struct {
	SKU          *string `json:"sku,omitempty" validate:"omitempty,min=1,max=64,sku"`
	Name         *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=4000"`
	PriceCents   *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	AvailableQty *int64  `json:"available_qty,omitempty" validate:"omitempty,gte=0"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

func (r updateProductRequest) toInput() product.UpdateProductInput {
	return product.UpdateProductInput{
		SKU:          sanitizeOptional(r.SKU, maxProductSKULen),
		Name:         sanitizeOptional(r.Name, maxProductNameLen),
		Description:  sanitizeOptional(r.Description, maxProductDescriptionLen),
		PriceCents:   r.PriceCents,
		AvailableQty: r.AvailableQty,
		IsActive:     r.IsActive,
	}
}

func sanitizeOptional(v *string, maxLen int) *string {
	if v == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*v, maxLen)
	return &cleaned
}

// Inactive products are only visible to admins.
func includeInactive(r *http.Request) bool {
	return strings.EqualFold(middleware.RoleFromContext(r.Context()), string(enums.UserRoleAdmin))
}

// ProductList returns a cursor-paginated page of products.
func ProductList(svc ProductService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListProducts(r.Context(), params, includeInactive(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// ProductDetail returns a single product.
func ProductDetail(svc ProductService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.GetProduct(r.Context(), id, includeInactive(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// AdminProductCreate adds a product to the catalog.
func AdminProductCreate(svc ProductService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		var req createProductRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.CreateProduct(r.Context(), req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// AdminProductUpdate applies a partial update to a product.
func AdminProductUpdate(svc ProductService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateProductRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.UpdateProduct(r.Context(), id, req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// AdminProductDelete deactivates a product.
func AdminProductDelete(svc ProductService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteProduct(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
