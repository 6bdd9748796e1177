package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Cart is a user-owned mutable basket. Version increases on every effective mutation.
type Cart struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Status       enums.CartStatus `gorm:"column:status;type:text;not null;default:'open'"`
	Version      int64            `gorm:"column:version;not null;default:1"`
	CheckedOutAt *time.Time       `gorm:"column:checked_out_at"`
	Items        []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// CartItem is one product line. UnitPriceCents is the price seen when the line was added.
type CartItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID         uuid.UUID `gorm:"column:cart_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity       int64     `gorm:"column:quantity;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Position       int       `gorm:"column:position;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
