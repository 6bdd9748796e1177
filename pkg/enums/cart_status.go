package enums

import "fmt"

// CartStatus tracks whether a cart is still mutable or already converted into an order.
type CartStatus string

const (
	CartStatusOpen       CartStatus = "open"
	CartStatusCheckedOut CartStatus = "checked_out"
)

var validCartStatuses = []CartStatus{
	CartStatusOpen,
	CartStatusCheckedOut,
}

// String implements fmt.Stringer.
func (c CartStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CartStatus.
func (c CartStatus) IsValid() bool {
	for _, candidate := range validCartStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	for _, candidate := range validCartStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}
