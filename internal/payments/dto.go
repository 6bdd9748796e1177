package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PaymentDTO is the API view of a payment row.
type PaymentDTO struct {
	ID           uuid.UUID             `json:"id"`
	OrderID      uuid.UUID             `json:"order_id"`
	Provider     enums.PaymentProvider `json:"provider"`
	ProviderRef  *string               `json:"provider_ref,omitempty"`
	ProviderTxID *string               `json:"provider_tx_id,omitempty"`
	AmountCents  int64                 `json:"amount_cents"`
	Currency     string                `json:"currency"`
	Status       enums.PaymentStatus   `json:"status"`
	ReceivedAt   *time.Time            `json:"received_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func NewPaymentDTO(p models.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Provider:     p.Provider,
		ProviderRef:  p.ProviderRef,
		ProviderTxID: p.ProviderTxID,
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		Status:       p.Status,
		ReceivedAt:   p.ReceivedAt,
		CreatedAt:    p.CreatedAt,
	}
}

// InitiateResult carries the recorded attempt and the client handle the
// caller needs to complete the capture.
type InitiateResult struct {
	Payment      PaymentDTO `json:"payment"`
	ClientSecret string     `json:"client_secret,omitempty"`
}

// PollSummary counts what one polling sweep did.
type PollSummary struct {
	Checked int `json:"checked"`
	Pending int `json:"pending"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}
