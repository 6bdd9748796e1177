package enums

import "fmt"

// OrderStatus is the order lifecycle driven by checkout, payment events and fulfilment.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusPaymentFailed  OrderStatus = "payment_failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusFulfilled      OrderStatus = "fulfilled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusPaymentFailed,
	OrderStatusCancelled,
	OrderStatusFulfilled,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// AwaitingPayment reports whether a successful charge may still settle the order.
func (o OrderStatus) AwaitingPayment() bool {
	return o == OrderStatusPendingPayment || o == OrderStatusPaymentFailed
}

// Settled reports whether money has been captured for the order.
func (o OrderStatus) Settled() bool {
	return o == OrderStatusPaid || o == OrderStatusFulfilled
}
