package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v81"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	stripeclient "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeEventHandler applies verified Stripe events.
type StripeEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*payments.PaymentApplicationResult, error)
}

type ignoredEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Ignored bool   `json:"ignored"`
}

// StripeWebhook verifies the Stripe-Signature header and forwards payment
// events to the reconciler. Event types the storefront does not consume are
// acknowledged with 200.
func StripeWebhook(svc StripeEventHandler, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || secret == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}
		if len(payload) > maxWebhookBody {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large"))
			return
		}

		event, err := stripeclient.ConstructEvent(payload, r.Header.Get(stripeSignatureHeader), secret)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
		}

		result, err := svc.HandleEvent(ctx, &event)
		if err == nil && result == nil {
			responses.WriteSuccess(w, ignoredEvent{EventID: event.ID, Type: string(event.Type), Ignored: true})
			return
		}
		ev := payments.PaymentEvent{ProviderTxID: event.ID}
		if result != nil {
			ev.ProviderTxID = result.ProviderTxID
			ev.OrderID = result.OrderID
			ev.Outcome = result.Outcome
		}
		writeOutcome(ctx, logg, w, ev, result, err)
	}
}
