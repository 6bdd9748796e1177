package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v81"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
	eventChargeRefunded  = "charge.refunded"

	source = "stripe_webhook"
)

type paymentApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev payments.PaymentEvent) (*payments.PaymentApplicationResult, error)
}

type ServiceParams struct {
	Reconciler paymentApplier
}

// Service translates verified Stripe events into reconciler deliveries.
type Service struct {
	reconciler paymentApplier
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler required")
	}
	return &Service{reconciler: params.Reconciler}, nil
}

// HandleEvent applies a payment event. Unhandled types return a nil result.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*payments.PaymentApplicationResult, error) {
	ev, err := Translate(event)
	if err != nil || ev == nil {
		return nil, err
	}
	return s.reconciler.ApplyPaymentEvent(ctx, *ev)
}

// Translate maps the Stripe event types the storefront consumes.
func Translate(event *stripe.Event) (*payments.PaymentEvent, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch string(event.Type) {
	case eventIntentSucceeded, eventIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		ev := payments.EventFromIntent(&intent, source)
		if ev == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent is not settled")
		}
		return ev, nil

	case eventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		ev := &payments.PaymentEvent{
			// The event id is stable across redeliveries of the same refund.
			ProviderTxID: event.ID,
			OrderID:      charge.Metadata[payments.OrderIDMetadataKey],
			AmountCents:  charge.AmountRefunded,
			Outcome:      enums.PaymentOutcomeRefunded,
			RefundOf:     charge.ID,
			Provider:     enums.PaymentProviderStripe,
			Source:       source,
		}
		if charge.PaymentIntent != nil {
			ev.ProviderRef = charge.PaymentIntent.ID
		}
		return ev, nil

	default:
		return nil, nil
	}
}
