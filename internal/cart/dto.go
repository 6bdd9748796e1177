package cart

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// AddItemInput adds quantity of a product at the unit price observed by the caller.
type AddItemInput struct {
	ProductID       uuid.UUID
	Quantity        int64
	UnitPriceCents  int64
	ExpectedVersion *int64
}

// ItemView is a cart line with its computed total.
type ItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// View is the API representation of a cart.
type View struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"user_id"`
	Status        enums.CartStatus `json:"status"`
	Version       int64            `json:"version"`
	Items         []ItemView       `json:"items"`
	ItemCount     int64            `json:"item_count"`
	SubtotalCents int64            `json:"subtotal_cents"`
	CheckedOutAt  *time.Time       `json:"checked_out_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewView computes line totals and the subtotal from the price snapshots.
func NewView(c *models.Cart) *View {
	if c == nil {
		return nil
	}
	view := &View{
		ID:           c.ID,
		UserID:       c.UserID,
		Status:       c.Status,
		Version:      c.Version,
		Items:        make([]ItemView, 0, len(c.Items)),
		CheckedOutAt: c.CheckedOutAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for _, item := range c.Items {
		line := item.UnitPriceCents * item.Quantity
		view.Items = append(view.Items, ItemView{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: line,
		})
		view.ItemCount += item.Quantity
		view.SubtotalCents += line
	}
	return view
}

// ETag renders the cart version as a strong entity tag.
func ETag(version int64) string {
	return strconv.Quote(fmt.Sprintf("v%d", version))
}

// ParseETag accepts `"v3"`, `v3`, `W/"v3"` or a bare `3`.
func ParseETag(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "W/")
	value = strings.Trim(value, `"`)
	value = strings.TrimPrefix(value, "v")
	version, err := strconv.ParseInt(value, 10, 64)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("invalid version tag %q", raw)
	}
	return version, nil
}
