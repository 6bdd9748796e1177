package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ChargeRequest asks a provider to start capturing an order total.
type ChargeRequest struct {
	OrderID     uuid.UUID
	UserID      uuid.UUID
	AmountCents int64
	Currency    string
	// Attempt is 1 for the first capture of an order and increases per retry.
	Attempt int
}

// IdempotencyKey is stable per order attempt so a retried initiation reuses the provider object.
func (r ChargeRequest) IdempotencyKey() string {
	return fmt.Sprintf("order:%s:attempt:%d", r.OrderID, r.Attempt)
}

// Charge is the provider handle for a started capture.
type Charge struct {
	ProviderRef  string
	ClientSecret string
}

// Provider starts captures and reports their settlement. Calls are never made
// inside a ledger transaction.
type Provider interface {
	Name() enums.PaymentProvider
	Initiate(ctx context.Context, req ChargeRequest) (*Charge, error)
	// Lookup returns nil while the capture is still pending.
	Lookup(ctx context.Context, providerRef string) (*PaymentEvent, error)
}

// ManualProvider settles offline: references are issued locally and outcomes
// arrive through the generic webhook.
type ManualProvider struct{}

func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

func (ManualProvider) Name() enums.PaymentProvider {
	return enums.PaymentProviderManual
}

func (ManualProvider) Initiate(_ context.Context, req ChargeRequest) (*Charge, error) {
	if req.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id required")
	}
	return &Charge{ProviderRef: "manual_" + uuid.NewString()}, nil
}

func (ManualProvider) Lookup(context.Context, string) (*PaymentEvent, error) {
	return nil, nil
}
