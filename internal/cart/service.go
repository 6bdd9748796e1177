package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const cartNotFound = "cart not found"

// Service owns cart mutations. Every effective change bumps the cart version
// through a conditional write at the version observed in the same transaction.
type Service struct {
	store ledger.Store
	logg  *logger.Logger
}

// NewService builds a cart service backed by the ledger store.
func NewService(store ledger.Store, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	return &Service{store: store, logg: logg}, nil
}

// applyFn performs the item writes for a planned mutation.
type applyFn func(ctx context.Context, carts ledger.CartRepository) error

// planFn inspects the locked cart and returns the writes to perform, or nil for a no-op.
type planFn func(cart *models.Cart) (applyFn, error)

func (s *Service) CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	cart := &models.Cart{
		ID:      uuid.New(),
		UserID:  userID,
		Status:  enums.CartStatusOpen,
		Version: 1,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Carts().Create(ctx, cart)
	})
	if err != nil {
		return nil, ledger.MapError(err, cartNotFound)
	}
	cart.Items = []models.CartItem{}
	s.log(ctx, cart.ID, "cart created")
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, userID, cartID uuid.UUID) (*models.Cart, error) {
	var out *models.Cart
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cart, err := loadOwned(ctx, tx, userID, cartID)
		if err != nil {
			return err
		}
		out = cart
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, cartNotFound)
	}
	return out, nil
}

func (s *Service) AddItem(ctx context.Context, userID, cartID uuid.UUID, input AddItemInput) (*models.Cart, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.UnitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	}

	return s.mutate(ctx, userID, cartID, input.ExpectedVersion, func(cart *models.Cart) (applyFn, error) {
		for _, item := range cart.Items {
			if item.ProductID != input.ProductID {
				continue
			}
			itemID, qty := item.ID, item.Quantity+input.Quantity
			return func(ctx context.Context, carts ledger.CartRepository) error {
				return carts.UpdateItemQuantity(ctx, itemID, qty)
			}, nil
		}
		item := &models.CartItem{
			ID:             uuid.New(),
			CartID:         cart.ID,
			ProductID:      input.ProductID,
			Quantity:       input.Quantity,
			UnitPriceCents: input.UnitPriceCents,
			Position:       nextPosition(cart.Items),
		}
		return func(ctx context.Context, carts ledger.CartRepository) error {
			return carts.InsertItem(ctx, item)
		}, nil
	})
}

// UpdateItem sets a line's quantity. Zero removes the line.
func (s *Service) UpdateItem(ctx context.Context, userID, cartID, itemID uuid.UUID, quantity int64, expectedVersion *int64) (*models.Cart, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be zero or positive")
	}
	return s.mutate(ctx, userID, cartID, expectedVersion, func(cart *models.Cart) (applyFn, error) {
		item := findItem(cart.Items, itemID)
		if item == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if quantity == 0 {
			return func(ctx context.Context, carts ledger.CartRepository) error {
				return carts.DeleteItem(ctx, itemID)
			}, nil
		}
		if item.Quantity == quantity {
			return nil, nil
		}
		return func(ctx context.Context, carts ledger.CartRepository) error {
			return carts.UpdateItemQuantity(ctx, itemID, quantity)
		}, nil
	})
}

// RemoveItem deletes a line. Removing an absent line is a successful no-op.
func (s *Service) RemoveItem(ctx context.Context, userID, cartID, itemID uuid.UUID, expectedVersion *int64) (*models.Cart, error) {
	return s.mutate(ctx, userID, cartID, expectedVersion, func(cart *models.Cart) (applyFn, error) {
		if findItem(cart.Items, itemID) == nil {
			return nil, nil
		}
		return func(ctx context.Context, carts ledger.CartRepository) error {
			return carts.DeleteItem(ctx, itemID)
		}, nil
	})
}

// Clear empties the cart. Clearing an empty cart is a successful no-op.
func (s *Service) Clear(ctx context.Context, userID, cartID uuid.UUID, expectedVersion *int64) (*models.Cart, error) {
	return s.mutate(ctx, userID, cartID, expectedVersion, func(cart *models.Cart) (applyFn, error) {
		if len(cart.Items) == 0 {
			return nil, nil
		}
		return func(ctx context.Context, carts ledger.CartRepository) error {
			return carts.DeleteItems(ctx, cart.ID)
		}, nil
	})
}

func (s *Service) mutate(ctx context.Context, userID, cartID uuid.UUID, expectedVersion *int64, plan planFn) (*models.Cart, error) {
	var out *models.Cart
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cart, err := loadOwned(ctx, tx, userID, cartID)
		if err != nil {
			return err
		}
		if cart.Status != enums.CartStatusOpen {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "cart is already checked out").
				WithDetails(map[string]any{"cart_id": cart.ID, "status": cart.Status})
		}
		if expectedVersion != nil && *expectedVersion != cart.Version {
			return versionConflict(cart, *expectedVersion)
		}

		apply, err := plan(cart)
		if err != nil {
			return err
		}
		if apply == nil {
			out = cart
			return nil
		}

		if err := tx.Carts().BumpVersion(ctx, cart.ID, cart.Version); err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				return versionConflict(cart, cart.Version)
			}
			return err
		}
		if err := apply(ctx, tx.Carts()); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart was modified concurrently")
			}
			return err
		}

		out, err = tx.Carts().FindByID(ctx, cart.ID)
		return err
	})
	if err != nil {
		return nil, ledger.MapError(err, cartNotFound)
	}
	s.log(ctx, out.ID, "cart updated")
	return out, nil
}

// loadOwned hides carts owned by other users behind NotFound.
func loadOwned(ctx context.Context, tx ledger.Tx, userID, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := tx.Carts().FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	return cart, nil
}

func versionConflict(cart *models.Cart, expected int64) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "cart version is stale").
		WithDetails(map[string]any{
			"cart_id":          cart.ID,
			"expected_version": expected,
			"current_version":  cart.Version,
		})
}

func findItem(items []models.CartItem, id uuid.UUID) *models.CartItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func nextPosition(items []models.CartItem) int {
	next := 1
	for _, item := range items {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}

func (s *Service) log(ctx context.Context, cartID uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Debug(s.logg.WithCartID(ctx, cartID.String()), msg)
}
