package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const cartNotFound = "cart not found"

// Catalog quotes current prices for the products in a cart.
type Catalog interface {
	CurrentPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]product.PriceQuote, error)
}

// ServiceParams wires the checkout orchestrator.
type ServiceParams struct {
	Store    ledger.Store
	Catalog  Catalog
	Config   config.CheckoutConfig
	Currency string
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Service converts a validated cart into exactly one order per idempotency key.
type Service struct {
	store     ledger.Store
	catalog   Catalog
	cfg       config.CheckoutConfig
	tolerance decimal.Decimal
	currency  string
	metrics   *metrics.CheckoutMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	tolerance, err := params.Config.Tolerance()
	if err != nil {
		return nil, err
	}
	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:     params.Store,
		catalog:   params.Catalog,
		cfg:       params.Config,
		tolerance: tolerance,
		currency:  currency,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

// Checkout places the order for input.CartID. Repeating the call with the same
// key returns the original order with Replayed set.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, input Input) (*Result, error) {
	started := time.Now()
	result, err := s.checkout(ctx, userID, input)
	s.metrics.Observe(outcomeLabel(result, err), time.Since(started))

	if s.logg != nil {
		logCtx := s.logg.WithCartID(ctx, input.CartID.String())
		if err != nil {
			logCtx = s.logg.WithField(logCtx, "error_code", string(pkgerrors.CodeOf(err)))
			s.logg.Warn(logCtx, "checkout rejected")
		} else {
			logCtx = s.logg.WithOrderID(logCtx, result.Order.ID.String())
			logCtx = s.logg.WithField(logCtx, "replayed", result.Replayed)
			s.logg.Info(logCtx, "checkout completed")
		}
	}
	return result, err
}

func (s *Service) checkout(ctx context.Context, userID uuid.UUID, input Input) (*Result, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	if input.CartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart_id is required")
	}
	key, err := NormalizeKey(input.IdempotencyKey, input.CartID)
	if err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	snapshot, replay, err := s.readPhase(ctx, userID, input.CartID, key)
	if err != nil {
		return nil, ledger.MapError(err, cartNotFound)
	}
	if replay != nil {
		return &Result{Order: replay, Replayed: true}, nil
	}

	if err := s.validatePrices(ctx, snapshot.Items); err != nil {
		return nil, err
	}

	result, err := s.atomicPhase(ctx, userID, snapshot, key)
	if errors.Is(err, ledger.ErrDuplicate) {
		result, err = s.resolveDuplicate(ctx, userID, input.CartID, key)
	}
	if err != nil {
		return nil, ledger.MapError(err, cartNotFound)
	}
	return result, nil
}

// readPhase loads the owned cart and answers replays before any validation.
func (s *Service) readPhase(ctx context.Context, userID, cartID uuid.UUID, key string) (*models.Cart, *models.Order, error) {
	var (
		snapshot *models.Cart
		replay   *models.Order
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cart, err := tx.Carts().FindByID(ctx, cartID)
		if err != nil {
			return err
		}
		if cart.UserID != userID {
			return ledger.ErrNotFound
		}

		replay, err = findReplay(ctx, tx, userID, cartID, key)
		if err != nil || replay != nil {
			return err
		}

		if cart.Status == enums.CartStatusCheckedOut {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "cart already checked out")
		}
		if len(cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
		}
		snapshot = cart
		return nil
	})
	return snapshot, replay, err
}

func (s *Service) validatePrices(ctx context.Context, items []models.CartItem) error {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	quotes, err := s.catalog.CurrentPrices(ctx, ids)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "load catalog prices")
	}
	return validatePrices(items, quotes, s.tolerance)
}

// atomicPhase freezes the cart, reserves stock and writes the order, its
// idempotency record and the order_created event in one transaction.
func (s *Service) atomicPhase(ctx context.Context, userID uuid.UUID, snapshot *models.Cart, key string) (*Result, error) {
	var result *Result
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		replay, err := findReplay(ctx, tx, userID, snapshot.ID, key)
		if err != nil {
			return err
		}
		if replay != nil {
			result = &Result{Order: replay, Replayed: true}
			return nil
		}

		now := s.now()
		if err := tx.Carts().MarkCheckedOut(ctx, snapshot.ID, snapshot.Version, now); err != nil {
			if !errors.Is(err, ledger.ErrVersionConflict) {
				return err
			}
			return s.explainCartConflict(ctx, tx, userID, snapshot, key, &result)
		}

		if s.cfg.ReserveInventory {
			for _, item := range snapshot.Items {
				if err := tx.Inventory().Reserve(ctx, item.ProductID, item.Quantity); err != nil {
					if errors.Is(err, ledger.ErrInsufficientStock) {
						return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "insufficient stock").
							WithDetails(map[string]any{"product_id": item.ProductID, "requested": item.Quantity})
					}
					return err
				}
			}
		}

		order := s.buildOrder(userID, snapshot, key)
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}

		recordJSON, err := json.Marshal(checkoutRecord{OrderID: order.ID, CartID: snapshot.ID})
		if err != nil {
			return err
		}
		orderID := order.ID
		if err := tx.Idempotency().Insert(ctx, &models.IdempotencyRecord{
			Scope:   ledger.CheckoutScope(userID),
			Key:     key,
			OrderID: &orderID,
			Result:  recordJSON,
		}); err != nil {
			return err
		}

		actor := userID
		if err := tx.Outbox().Emit(ctx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &actor, Role: enums.UserRoleCustomer.String()},
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				UserID:         userID,
				CartID:         snapshot.ID,
				TotalCents:     order.TotalCents,
				Currency:       order.Currency,
				ItemCount:      order.ItemCount,
				IdempotencyKey: key,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}

		result = &Result{Order: order}
		return nil
	})
	return result, err
}

// explainCartConflict re-reads a cart whose conditional checkout matched no rows.
func (s *Service) explainCartConflict(ctx context.Context, tx ledger.Tx, userID uuid.UUID, snapshot *models.Cart, key string, result **Result) error {
	replay, err := findReplay(ctx, tx, userID, snapshot.ID, key)
	if err != nil {
		return err
	}
	if replay != nil {
		*result = &Result{Order: replay, Replayed: true}
		return nil
	}
	current, err := tx.Carts().FindByID(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	if current.Status == enums.CartStatusCheckedOut {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "cart already checked out")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "cart changed during checkout").
		WithDetails(map[string]any{"expected_version": snapshot.Version, "current_version": current.Version})
}

// resolveDuplicate answers the loser of a concurrent insert for the same key.
func (s *Service) resolveDuplicate(ctx context.Context, userID, cartID uuid.UUID, key string) (*Result, error) {
	var result *Result
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		replay, err := findReplay(ctx, tx, userID, cartID, key)
		if err != nil {
			return err
		}
		if replay == nil {
			order, err := tx.Orders().FindByIdempotencyKey(ctx, userID, key)
			if errors.Is(err, ledger.ErrNotFound) {
				return pkgerrors.New(pkgerrors.CodeInvalidState, "cart already checked out")
			}
			if err != nil {
				return err
			}
			if order.CartID != cartID {
				return idempotencyReused(key)
			}
			replay = order
		}
		result = &Result{Order: replay, Replayed: true}
		return nil
	})
	return result, err
}

// findReplay returns the order already bound to (user, key), or nil when the key is unused.
func findReplay(ctx context.Context, tx ledger.Tx, userID, cartID uuid.UUID, key string) (*models.Order, error) {
	rec, err := tx.Idempotency().Find(ctx, ledger.CheckoutScope(userID), key)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored checkoutRecord
	if err := json.Unmarshal(rec.Result, &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout idempotency record")
	}
	if stored.CartID != cartID {
		return nil, idempotencyReused(key)
	}
	return tx.Orders().FindByID(ctx, stored.OrderID)
}

func idempotencyReused(key string) error {
	return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different cart").
		WithDetails(map[string]any{"idempotency_key": key})
}

func (s *Service) buildOrder(userID uuid.UUID, cart *models.Cart, key string) *models.Order {
	order := &models.Order{
		ID:                uuid.New(),
		UserID:            userID,
		CartID:            cart.ID,
		IdempotencyKey:    key,
		Status:            enums.OrderStatusPendingPayment,
		Currency:          s.currency,
		InventoryReserved: s.cfg.ReserveInventory,
		Version:           1,
		LineItems:         make([]models.OrderLineItem, 0, len(cart.Items)),
	}
	for i, item := range cart.Items {
		lineTotal := item.UnitPriceCents * item.Quantity
		order.SubtotalCents += lineTotal
		order.ItemCount += item.Quantity
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: lineTotal,
			Position:       i,
		})
	}
	order.TotalCents = order.SubtotalCents
	return order
}

func outcomeLabel(result *Result, err error) string {
	switch {
	case err != nil:
		return strings.ToLower(string(pkgerrors.CodeOf(err)))
	case result.Replayed:
		return "replayed"
	default:
		return "created"
	}
}
