package webhooks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

const genericSource = "payment_webhook"

// Reconciler applies provider payment events.
type Reconciler interface {
	ApplyPaymentEvent(ctx context.Context, ev payments.PaymentEvent) (*payments.PaymentApplicationResult, error)
}

type paymentEventRequest struct {
	ProviderTxID string                `json:"provider_tx_id" validate:"required,max=255"`
	OrderID      string                `json:"order_id" validate:"omitempty,uuid"`
	AmountCents  int64                 `json:"amount_cents" validate:"gte=0"`
	Outcome      enums.PaymentOutcome  `json:"outcome" validate:"required,oneof=succeeded failed refunded"`
	ProviderRef  string                `json:"provider_ref,omitempty" validate:"omitempty,max=255"`
	RefundOf     string                `json:"refund_of,omitempty" validate:"omitempty,max=255"`
	Provider     enums.PaymentProvider `json:"provider,omitempty" validate:"omitempty,oneof=manual stripe"`
}

func (r paymentEventRequest) toEvent() payments.PaymentEvent {
	provider := r.Provider
	if provider == "" {
		provider = enums.PaymentProviderManual
	}
	return payments.PaymentEvent{
		ProviderTxID: strings.TrimSpace(r.ProviderTxID),
		OrderID:      strings.TrimSpace(r.OrderID),
		AmountCents:  r.AmountCents,
		Outcome:      r.Outcome,
		ProviderRef:  strings.TrimSpace(r.ProviderRef),
		RefundOf:     strings.TrimSpace(r.RefundOf),
		Provider:     provider,
		Source:       genericSource,
	}
}

// PaymentEvent accepts the generic provider callback. When secret is set the
// body must carry a valid X-Webhook-Signature.
func PaymentEvent(reconciler Reconciler, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
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

		if secret != "" {
			if err := security.VerifySignature(secret, payload, r.Header.Get(SignatureHeader)); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
				return
			}
		}

		// The signature covers the raw bytes; decode from the same buffer.
		r.Body = io.NopCloser(bytes.NewReader(payload))
		var req paymentEventRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ev := req.toEvent()
		result, err := reconciler.ApplyPaymentEvent(r.Context(), ev)
		writeOutcome(r.Context(), logg, w, ev, result, err)
	}
}
