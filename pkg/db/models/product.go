package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog listing with its current price and sellable stock.
type Product struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SKU          string    `gorm:"column:sku;not null;uniqueIndex"`
	Name         string    `gorm:"column:name;not null"`
	Description  *string   `gorm:"column:description"`
	PriceCents   int64     `gorm:"column:price_cents;not null"`
	AvailableQty int64     `gorm:"column:available_qty;not null;default:0"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
