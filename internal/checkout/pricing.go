package checkout

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

var fullDrift = decimal.NewFromInt(1)

// validatePrices compares every snapshot with the current catalog price.
// Drift is |snapshot-current|/current and must not exceed tolerance.
func validatePrices(items []models.CartItem, quotes map[uuid.UUID]product.PriceQuote, tolerance decimal.Decimal) error {
	var drifted []PriceDrift
	for _, item := range items {
		quote, ok := quotes[item.ProductID]
		if !ok || !quote.Active {
			return pkgerrors.New(pkgerrors.CodeValidation, "product is no longer available").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}

		snapshot := decimal.NewFromInt(item.UnitPriceCents)
		current := decimal.NewFromInt(quote.PriceCents)
		if snapshot.Equal(current) {
			continue
		}

		drift := fullDrift
		if !current.IsZero() {
			drift = snapshot.Sub(current).Abs().Div(current)
		}
		if drift.GreaterThan(tolerance) {
			drifted = append(drifted, PriceDrift{
				ProductID:     item.ProductID,
				SnapshotCents: item.UnitPriceCents,
				CurrentCents:  quote.PriceCents,
				Drift:         drift.StringFixed(4),
			})
		}
	}
	if len(drifted) > 0 {
		return pkgerrors.New(pkgerrors.CodePriceMismatch, "cart prices changed").
			WithDetails(map[string]any{"lines": drifted})
	}
	return nil
}
