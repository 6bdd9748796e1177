package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubReconciler struct {
	received []payments.PaymentEvent
}

func (s *stubReconciler) ApplyPaymentEvent(_ context.Context, ev payments.PaymentEvent) (*payments.PaymentApplicationResult, error) {
	s.received = append(s.received, ev)
	return &payments.PaymentApplicationResult{ProviderTxID: ev.ProviderTxID, Disposition: enums.EventDispositionApplied}, nil
}

func rawEvent(t *testing.T, id, eventType string, obj any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &stripe.Event{ID: id, Type: stripe.EventType(eventType), Data: &stripe.EventData{Raw: raw}}
}

func TestHandleEventSucceededIntentUsesLatestCharge(t *testing.T) {
	reconciler := &stubReconciler{}
	svc, err := NewService(ServiceParams{Reconciler: reconciler})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	orderID := uuid.New()

	event := rawEvent(t, "evt_1", eventIntentSucceeded, map[string]any{
		"id":              "pi_1",
		"object":          "payment_intent",
		"status":          "succeeded",
		"amount":          4200,
		"amount_received": 4200,
		"latest_charge":   "ch_1",
		"metadata":        map[string]string{"order_id": orderID.String()},
	})

	result, err := svc.HandleEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result == nil || len(reconciler.received) != 1 {
		t.Fatalf("expected one reconciler delivery")
	}
	got := reconciler.received[0]
	if got.ProviderTxID != "ch_1" || got.ProviderRef != "pi_1" || got.OrderID != orderID.String() {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Outcome != enums.PaymentOutcomeSucceeded || got.AmountCents != 4200 || got.Provider != enums.PaymentProviderStripe {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestTranslateFailedIntent(t *testing.T) {
	event := rawEvent(t, "evt_2", eventIntentFailed, map[string]any{
		"id":                 "pi_2",
		"object":             "payment_intent",
		"status":             "requires_payment_method",
		"amount":             1000,
		"last_payment_error": map[string]any{"code": "card_declined"},
		"metadata":           map[string]string{"order_id": uuid.NewString()},
	})

	ev, err := Translate(event)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if ev.Outcome != enums.PaymentOutcomeFailed || ev.ProviderTxID != "pi_2:requires_payment_method" {
		t.Fatalf("unexpected failed event %+v", ev)
	}
}

func TestTranslateChargeRefunded(t *testing.T) {
	event := rawEvent(t, "evt_refund", eventChargeRefunded, map[string]any{
		"id":              "ch_9",
		"object":          "charge",
		"amount_refunded": 500,
		"payment_intent":  "pi_9",
	})

	ev, err := Translate(event)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if ev.ProviderTxID != "evt_refund" || ev.RefundOf != "ch_9" || ev.ProviderRef != "pi_9" {
		t.Fatalf("unexpected refund event %+v", ev)
	}
	if ev.Outcome != enums.PaymentOutcomeRefunded || ev.AmountCents != 500 || ev.OrderID != "" {
		t.Fatalf("unexpected refund event %+v", ev)
	}
}

func TestTranslateIgnoresOtherTypesAndRejectsBadPayloads(t *testing.T) {
	ev, err := Translate(rawEvent(t, "evt_3", "customer.created", map[string]any{"id": "cus_1"}))
	if err != nil || ev != nil {
		t.Fatalf("expected ignored event, got %+v err=%v", ev, err)
	}

	_, err = Translate(&stripe.Event{Type: stripe.EventType(eventIntentSucceeded), Data: &stripe.EventData{Raw: []byte("{")}})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	pending := rawEvent(t, "evt_4", eventIntentSucceeded, map[string]any{"id": "pi_4", "status": "processing"})
	if _, err := Translate(pending); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unsettled intent, got %v", err)
	}

	if _, err := Translate(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}
