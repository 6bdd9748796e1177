package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PaymentEventLog is the append-only audit of every payment event delivery.
type PaymentEventLog struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ProviderTxID string                 `gorm:"column:provider_tx_id;not null"`
	OrderID      string                 `gorm:"column:order_id;not null"`
	Outcome      string                 `gorm:"column:outcome;not null"`
	AmountCents  int64                  `gorm:"column:amount_cents;not null"`
	Source       string                 `gorm:"column:source;not null"`
	Disposition  enums.EventDisposition `gorm:"column:disposition;type:text;not null"`
	Reason       *string                `gorm:"column:reason"`
	ErrorCode    *string                `gorm:"column:error_code"`
	ReceivedAt   time.Time              `gorm:"column:received_at;not null"`
}
