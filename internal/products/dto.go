package product

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CreateProductInput holds the validated payload to create a product.
type CreateProductInput struct {
	SKU          string
	Name         string
	Description  *string
	PriceCents   int64
	AvailableQty int64
	IsActive     *bool
}

// UpdateProductInput holds optional mutation values for a product.
type UpdateProductInput struct {
	SKU          *string
	Name         *string
	Description  *string
	PriceCents   *int64
	AvailableQty *int64
	IsActive     *bool
}

// PriceQuote is the current catalog price used to validate cart snapshots.
type PriceQuote struct {
	PriceCents   int64
	AvailableQty int64
	Active       bool
}

// ProductDTO is the API representation of a listing.
type ProductDTO struct {
	ID           uuid.UUID `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	AvailableQty int64     `json:"available_qty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewProductDTO(p *models.Product) *ProductDTO {
	if p == nil {
		return nil
	}
	return &ProductDTO{
		ID:           p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Description:  p.Description,
		PriceCents:   p.PriceCents,
		AvailableQty: p.AvailableQty,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
