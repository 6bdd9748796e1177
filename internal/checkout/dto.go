package checkout

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// MaxIdempotencyKeyLength bounds client-supplied checkout keys.
const MaxIdempotencyKeyLength = 128

// Input identifies the cart to convert. An empty key defaults to the cart id.
type Input struct {
	CartID         uuid.UUID
	IdempotencyKey string
}

// Result is the order produced for the idempotency key. Replayed is true when
// the order already existed before this call.
type Result struct {
	Order    *models.Order
	Replayed bool
}

// checkoutRecord is the JSON stored in idempotency_records for a checkout key.
type checkoutRecord struct {
	OrderID uuid.UUID `json:"order_id"`
	CartID  uuid.UUID `json:"cart_id"`
}

// PriceDrift describes a line whose snapshot moved past the tolerance.
type PriceDrift struct {
	ProductID     uuid.UUID `json:"product_id"`
	SnapshotCents int64     `json:"snapshot_cents"`
	CurrentCents  int64     `json:"current_cents"`
	Drift         string    `json:"drift"`
}

// NormalizeKey trims the key and falls back to the cart id.
func NormalizeKey(key string, cartID uuid.UUID) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return cartID.String(), nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long").
			WithDetails(map[string]any{"max_length": MaxIdempotencyKeyLength})
	}
	return key, nil
}
