package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout converts a cart into an order.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	UserID         uuid.UUID `json:"user_id"`
	CartID         uuid.UUID `json:"cart_id"`
	TotalCents     int64     `json:"total_cents"`
	Currency       string    `json:"currency"`
	ItemCount      int64     `json:"item_count"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// OrderStatusEvent covers paid, cancelled and fulfilled transitions.
type OrderStatusEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	UserID     uuid.UUID         `json:"user_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderPaidEvent is emitted once a successful charge settles the order.
type OrderPaidEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	UserID       uuid.UUID `json:"user_id"`
	PaymentID    uuid.UUID `json:"payment_id"`
	ProviderTxID string    `json:"provider_tx_id"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	PaidAt       time.Time `json:"paid_at"`
}

// PaymentStatusEvent covers initiated, failed and refunded payments.
type PaymentStatusEvent struct {
	OrderID      uuid.UUID           `json:"order_id"`
	PaymentID    uuid.UUID           `json:"payment_id"`
	Provider     string              `json:"provider"`
	ProviderRef  *string             `json:"provider_ref,omitempty"`
	ProviderTxID *string             `json:"provider_tx_id,omitempty"`
	Status       enums.PaymentStatus `json:"status"`
	AmountCents  int64               `json:"amount_cents"`
}
