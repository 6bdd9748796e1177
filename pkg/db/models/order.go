package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is the immutable result of a checkout plus its payment lifecycle.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	CartID            uuid.UUID         `gorm:"column:cart_id;type:uuid;not null;uniqueIndex"`
	IdempotencyKey    string            `gorm:"column:idempotency_key;not null"`
	Status            enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	SubtotalCents     int64             `gorm:"column:subtotal_cents;not null"`
	TotalCents        int64             `gorm:"column:total_cents;not null"`
	Currency          string            `gorm:"column:currency;not null;default:'usd'"`
	ItemCount         int64             `gorm:"column:item_count;not null"`
	InventoryReserved bool              `gorm:"column:inventory_reserved;not null;default:false"`
	Version           int64             `gorm:"column:version;not null;default:1"`
	PaidAt            *time.Time        `gorm:"column:paid_at"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	FulfilledAt       *time.Time        `gorm:"column:fulfilled_at"`
	LineItems         []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLineItem snapshots one cart line at checkout time.
type OrderLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity       int64     `gorm:"column:quantity;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	Position       int       `gorm:"column:position;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
