package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// maxWebhookBody matches the payload ceiling Stripe documents.
const maxWebhookBody = 65536

// writeOutcome maps a reconciler answer onto the provider facing status:
// 200 applied or duplicate, 202 recorded rejection, errors otherwise.
func writeOutcome(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, ev payments.PaymentEvent, result *payments.PaymentApplicationResult, err error) {
	if err == nil {
		responses.WriteSuccess(w, result)
		return
	}
	if result != nil {
		logRejection(ctx, logg, result)
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
		return
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		result = &payments.PaymentApplicationResult{
			ProviderTxID: ev.ProviderTxID,
			OrderID:      ev.OrderID,
			Outcome:      ev.Outcome,
			Disposition:  enums.EventDispositionRejected,
			ErrorCode:    string(pkgerrors.CodeNotFound),
			Reason:       messageOf(err),
		}
		logRejection(ctx, logg, result)
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
		return
	}
	responses.WriteError(ctx, logg, w, err)
}

func messageOf(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func logRejection(ctx context.Context, logg *logger.Logger, result *payments.PaymentApplicationResult) {
	if logg == nil {
		return
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"provider_tx_id": result.ProviderTxID,
		"order_id":       result.OrderID,
		"error_code":     result.ErrorCode,
		"duplicate":      result.Duplicate,
	})
	logg.Warn(logCtx, "payment event rejected")
}
