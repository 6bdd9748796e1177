package ledger

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{name: "not found", err: ErrNotFound, want: pkgerrors.CodeNotFound},
		{name: "version conflict", err: ErrVersionConflict, want: pkgerrors.CodeConflict},
		{name: "wrapped duplicate", err: fmt.Errorf("create order: %w", ErrDuplicate), want: pkgerrors.CodeConflict},
		{name: "stock", err: ErrInsufficientStock, want: pkgerrors.CodeConflict},
		{name: "already coded", err: pkgerrors.New(pkgerrors.CodeUnavailable, "db down"), want: pkgerrors.CodeUnavailable},
		{name: "untyped", err: errors.New("boom"), want: pkgerrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pkgerrors.CodeOf(MapError(tc.err, "cart not found")); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
	if MapError(nil, "x") != nil {
		t.Fatal("expected nil for nil error")
	}
}
