package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	stripeclient "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

// OrderIDMetadataKey tags provider objects with the order they capture.
const OrderIDMetadataKey = "order_id"

type stripeAPI interface {
	CreatePaymentIntent(ctx context.Context, req stripeclient.IntentRequest) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// StripeProvider captures through PaymentIntents. The provider tx id of a
// settled intent is its latest charge id, so webhook and poll deliveries dedupe.
type StripeProvider struct {
	api stripeAPI
}

func NewStripeProvider(api stripeAPI) (*StripeProvider, error) {
	if api == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeProvider{api: api}, nil
}

func (p *StripeProvider) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (p *StripeProvider) Initiate(ctx context.Context, req ChargeRequest) (*Charge, error) {
	intent, err := p.api.CreatePaymentIntent(ctx, stripeclient.IntentRequest{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey(),
		Metadata: map[string]string{
			OrderIDMetadataKey: req.OrderID.String(),
			"user_id":          req.UserID.String(),
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe payment intent")
	}
	return &Charge{ProviderRef: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (p *StripeProvider) Lookup(ctx context.Context, providerRef string) (*PaymentEvent, error) {
	intent, err := p.api.GetPaymentIntent(ctx, providerRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe payment intent")
	}
	return EventFromIntent(intent, "poll"), nil
}

// EventFromIntent maps a terminal intent to a payment event, or nil while pending.
func EventFromIntent(intent *stripe.PaymentIntent, source string) *PaymentEvent {
	if intent == nil {
		return nil
	}
	ev := &PaymentEvent{
		OrderID:     intent.Metadata[OrderIDMetadataKey],
		ProviderRef: intent.ID,
		Provider:    enums.PaymentProviderStripe,
		Source:      source,
	}
	chargeID := ""
	if intent.LatestCharge != nil {
		chargeID = intent.LatestCharge.ID
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		ev.Outcome = enums.PaymentOutcomeSucceeded
		ev.AmountCents = intent.AmountReceived
		if ev.AmountCents == 0 {
			ev.AmountCents = intent.Amount
		}
		ev.ProviderTxID = chargeID
		if ev.ProviderTxID == "" {
			ev.ProviderTxID = intent.ID
		}
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && intent.LastPaymentError == nil {
			return nil
		}
		ev.Outcome = enums.PaymentOutcomeFailed
		ev.AmountCents = intent.Amount
		ev.ProviderTxID = chargeID
		if ev.ProviderTxID == "" {
			ev.ProviderTxID = intent.ID + ":" + strings.ToLower(string(intent.Status))
		}
	default:
		return nil
	}
	return ev
}
