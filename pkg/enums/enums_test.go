package enums

import "testing"

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("payment_failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OrderStatusPaymentFailed {
		t.Fatalf("unexpected status %s", status)
	}
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		awaiting bool
		settled  bool
	}{
		{OrderStatusPendingPayment, true, false},
		{OrderStatusPaymentFailed, true, false},
		{OrderStatusPaid, false, true},
		{OrderStatusFulfilled, false, true},
		{OrderStatusCancelled, false, false},
	}
	for _, tc := range cases {
		if got := tc.status.AwaitingPayment(); got != tc.awaiting {
			t.Fatalf("%s AwaitingPayment=%v want %v", tc.status, got, tc.awaiting)
		}
		if got := tc.status.Settled(); got != tc.settled {
			t.Fatalf("%s Settled=%v want %v", tc.status, got, tc.settled)
		}
	}
}

func TestPaymentOutcomeIsValid(t *testing.T) {
	if !PaymentOutcomeRefunded.IsValid() {
		t.Fatal("refunded should be valid")
	}
	if PaymentOutcome("chargeback").IsValid() {
		t.Fatal("chargeback should not be valid")
	}
}

func TestParseOutboxEventType(t *testing.T) {
	if _, err := ParseOutboxEventType("order_paid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseOutboxEventType("license_expired"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}
