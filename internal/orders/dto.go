package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Actor is the authenticated caller acting on an order.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// LineItemDTO is one snapshotted order line.
type LineItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// OrderDTO is the API view of an order.
type OrderDTO struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	CartID         uuid.UUID         `json:"cart_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Status         enums.OrderStatus `json:"status"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	TotalCents     int64             `json:"total_cents"`
	Currency       string            `json:"currency"`
	ItemCount      int64             `json:"item_count"`
	Version        int64             `json:"version"`
	LineItems      []LineItemDTO     `json:"line_items"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	FulfilledAt    *time.Time        `json:"fulfilled_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func NewOrderDTO(o models.Order) OrderDTO {
	lines := make([]LineItemDTO, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lines = append(lines, LineItemDTO{
			ID:             li.ID,
			ProductID:      li.ProductID,
			Quantity:       li.Quantity,
			UnitPriceCents: li.UnitPriceCents,
			LineTotalCents: li.LineTotalCents,
		})
	}
	return OrderDTO{
		ID:             o.ID,
		UserID:         o.UserID,
		CartID:         o.CartID,
		IdempotencyKey: o.IdempotencyKey,
		Status:         o.Status,
		SubtotalCents:  o.SubtotalCents,
		TotalCents:     o.TotalCents,
		Currency:       o.Currency,
		ItemCount:      o.ItemCount,
		Version:        o.Version,
		LineItems:      lines,
		PaidAt:         o.PaidAt,
		CancelledAt:    o.CancelledAt,
		FulfilledAt:    o.FulfilledAt,
		CreatedAt:      o.CreatedAt,
	}
}
