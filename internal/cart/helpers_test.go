package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	"github.com/angelmondragon/storefront-backend/internal/ledger/ledgertest"
)

func markCheckedOut(t *testing.T, store *ledgertest.Store, cartID uuid.UUID, version int64) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.Carts().MarkCheckedOut(ctx, cartID, version, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("mark checked out: %v", err)
	}
}
