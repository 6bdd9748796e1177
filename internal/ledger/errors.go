package ledger

import (
	"errors"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// MapError converts ledger sentinels into coded errors for callers outside the core.
// notFound is the public message used for ErrNotFound.
func MapError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case pkgerrors.As(err) != nil:
		return err
	case errors.Is(err, ErrNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	case errors.Is(err, ErrVersionConflict):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "resource was modified concurrently")
	case errors.Is(err, ErrDuplicate):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "resource already exists")
	case errors.Is(err, ErrInsufficientStock):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "insufficient stock")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger operation failed")
	}
}
