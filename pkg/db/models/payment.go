package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Payment tracks one capture attempt or settlement for an order.
type Payment struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	Provider     enums.PaymentProvider `gorm:"column:provider;type:text;not null"`
	ProviderRef  *string               `gorm:"column:provider_ref"`
	ProviderTxID *string               `gorm:"column:provider_tx_id;uniqueIndex"`
	AmountCents  int64                 `gorm:"column:amount_cents;not null"`
	Currency     string                `gorm:"column:currency;not null;default:'usd'"`
	Status       enums.PaymentStatus   `gorm:"column:status;type:text;not null"`
	ReceivedAt   *time.Time            `gorm:"column:received_at"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
