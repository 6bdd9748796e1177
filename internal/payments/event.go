package payments

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// PaymentEvent is one provider notification about a charge. Deliveries may be
// duplicated or arrive out of order; ProviderTxID is the dedupe key.
type PaymentEvent struct {
	ProviderTxID string               `json:"provider_tx_id"`
	OrderID      string               `json:"order_id"`
	AmountCents  int64                `json:"amount_cents"`
	Outcome      enums.PaymentOutcome `json:"outcome"`
	// ProviderRef is the capture handle returned at initiation, when known.
	ProviderRef string `json:"provider_ref,omitempty"`
	// RefundOf names the provider tx id of the refunded charge.
	RefundOf string                `json:"refund_of,omitempty"`
	Provider enums.PaymentProvider `json:"provider,omitempty"`
	Source   string                `json:"source,omitempty"`
}

// PaymentApplicationResult is what the first delivery of a tx id produced.
// Later deliveries return it unchanged with Duplicate set.
type PaymentApplicationResult struct {
	ProviderTxID  string                 `json:"provider_tx_id"`
	OrderID       string                 `json:"order_id"`
	PaymentID     *uuid.UUID             `json:"payment_id,omitempty"`
	Outcome       enums.PaymentOutcome   `json:"outcome"`
	Disposition   enums.EventDisposition `json:"disposition"`
	OrderStatus   enums.OrderStatus      `json:"order_status,omitempty"`
	PaymentStatus enums.PaymentStatus    `json:"payment_status,omitempty"`
	ErrorCode     string                 `json:"error_code,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Duplicate     bool                   `json:"duplicate"`
}

// Rejected reports whether the first delivery was refused.
func (r *PaymentApplicationResult) Rejected() bool {
	return r != nil && r.Disposition == enums.EventDispositionRejected
}

// normalize trims the event and checks required fields. A refund may omit the
// order id when RefundOf identifies the original charge.
func (e *PaymentEvent) normalize() (uuid.UUID, error) {
	e.ProviderTxID = strings.TrimSpace(e.ProviderTxID)
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.ProviderRef = strings.TrimSpace(e.ProviderRef)
	e.RefundOf = strings.TrimSpace(e.RefundOf)
	if e.Source == "" {
		e.Source = "webhook"
	}
	if e.Provider == "" {
		e.Provider = enums.PaymentProviderManual
	}

	if e.ProviderTxID == "" {
		return uuid.Nil, invalidEvent("provider_tx_id is required")
	}
	if e.AmountCents < 0 {
		return uuid.Nil, invalidEvent("amount_cents must be non-negative")
	}
	if !e.Outcome.IsValid() {
		return uuid.Nil, invalidEvent("outcome must be succeeded, failed or refunded")
	}
	if !e.Provider.IsValid() {
		return uuid.Nil, invalidEvent("unknown payment provider")
	}
	if e.OrderID == "" {
		if e.Outcome == enums.PaymentOutcomeRefunded && e.RefundOf != "" {
			return uuid.Nil, nil
		}
		return uuid.Nil, invalidEvent("order_id is required")
	}
	orderID, err := uuid.Parse(e.OrderID)
	if err != nil {
		return uuid.Nil, invalidEvent("order_id must be a uuid")
	}
	return orderID, nil
}

func invalidEvent(msg string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
