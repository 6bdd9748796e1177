package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	stripeclient "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

// ProviderFromConfig builds the provider named by STOREFRONT_PAYMENTS_PROVIDER.
func ProviderFromConfig(ctx context.Context, cfg config.Config, logg *logger.Logger) (Provider, error) {
	name := enums.PaymentProvider(strings.ToLower(strings.TrimSpace(cfg.Payments.Provider)))
	switch name {
	case "", enums.PaymentProviderManual:
		return NewManualProvider(), nil
	case enums.PaymentProviderStripe:
		client, err := stripeclient.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		return NewStripeProvider(client)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payments.Provider)
	}
}
