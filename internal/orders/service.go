package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const orderNotFound = "order not found"

// ServiceParams wires the order service.
type ServiceParams struct {
	Store  ledger.Store
	Logger *logger.Logger
	Clock  func() time.Time
}

// Service serves order queries and the post-checkout transitions that are not
// driven by payment events: cancellation, fulfilment and expiry.
type Service struct {
	store ledger.Store
	logg  *logger.Logger
	now   func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: params.Store, logg: params.Logger, now: clock}, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*OrderDTO, error) {
	var out *OrderDTO
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := loadVisible(ctx, tx, actor, id, false)
		if err != nil {
			return err
		}
		dto := NewOrderDTO(*order)
		out = &dto
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, orderNotFound)
	}
	return out, nil
}

// List pages orders newest first. Customers only see their own.
func (s *Service) List(ctx context.Context, actor Actor, params pagination.Params) (*pagination.Page[OrderDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter := ledger.ListFilter{Cursor: cursor, Limit: params.Limit}
	if !actor.IsAdmin() {
		userID := actor.UserID
		filter.UserID = &userID
	}

	var rows []models.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rows, err = tx.Orders().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, ledger.MapError(err, orderNotFound)
	}

	page := pagination.BuildPage(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	items := make([]OrderDTO, 0, len(page.Items))
	for _, o := range page.Items {
		items = append(items, NewOrderDTO(o))
	}
	return &pagination.Page[OrderDTO]{Items: items, NextCursor: page.NextCursor}, nil
}

// UpdateStatus dispatches a requested status change.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to enums.OrderStatus) (*OrderDTO, error) {
	switch to {
	case enums.OrderStatusCancelled:
		return s.Cancel(ctx, actor, id)
	case enums.OrderStatusFulfilled:
		return s.Fulfil(ctx, actor, id)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be cancelled or fulfilled")
	}
}

// Cancel cancels an unpaid order and returns reserved stock. Cancelling an
// already cancelled order returns it unchanged.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*OrderDTO, error) {
	var out *OrderDTO
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := loadVisible(ctx, tx, actor, id, true)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCancelled {
			if err := s.cancelLocked(ctx, tx, order, actorRef(actor, "api")); err != nil {
				return err
			}
		}
		dto := NewOrderDTO(*order)
		out = &dto
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, orderNotFound)
	}
	s.logTransition(ctx, out, "order cancelled")
	return out, nil
}

// Fulfil marks a paid order as shipped. Only admins may fulfil.
func (s *Service) Fulfil(ctx context.Context, actor Actor, id uuid.UUID) (*OrderDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can fulfil orders")
	}
	var out *OrderDTO
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		order, err := tx.Orders().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch order.Status {
		case enums.OrderStatusFulfilled:
		case enums.OrderStatusPaid:
			if err := s.transition(ctx, tx, order, enums.OrderStatusFulfilled, enums.EventOrderFulfilled, actorRef(actor, "api")); err != nil {
				return err
			}
		default:
			return invalidTransition(order.Status, enums.OrderStatusFulfilled)
		}
		dto := NewOrderDTO(*order)
		out = &dto
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, orderNotFound)
	}
	s.logTransition(ctx, out, "order fulfilled")
	return out, nil
}

// ExpireUnpaid cancels orders still awaiting payment that were created before
// the cutoff. Each order commits on its own; failures are aggregated.
func (s *Service) ExpireUnpaid(ctx context.Context, before time.Time, limit int) (int, error) {
	var stale []models.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		stale, err = tx.Orders().ListAwaitingPaymentBefore(ctx, before, limit)
		return err
	})
	if err != nil {
		return 0, ledger.MapError(err, orderNotFound)
	}

	system := &outbox.ActorRef{Role: "system", Source: "cron"}
	expired := 0
	var errs error
	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return expired, multierr.Append(errs, err)
		}
		changed := false
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			changed = false
			order, err := tx.Orders().FindByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// A payment may have settled since the scan.
			if !order.Status.AwaitingPayment() {
				return nil
			}
			if err := s.cancelLocked(ctx, tx, order, system); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", candidate.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errs
}

func (s *Service) cancelLocked(ctx context.Context, tx ledger.Tx, order *models.Order, actor *outbox.ActorRef) error {
	if !order.Status.AwaitingPayment() {
		return invalidTransition(order.Status, enums.OrderStatusCancelled)
	}
	if order.InventoryReserved {
		for _, line := range order.LineItems {
			if err := tx.Inventory().Release(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
	}
	return s.transition(ctx, tx, order, enums.OrderStatusCancelled, enums.EventOrderCancelled, actor)
}

// transition writes the status change at the observed version, emits the
// matching event and updates order in place.
func (s *Service) transition(ctx context.Context, tx ledger.Tx, order *models.Order, to enums.OrderStatus, event enums.OutboxEventType, actor *outbox.ActorRef) error {
	now := s.now()
	if err := tx.Orders().Transition(ctx, ledger.OrderTransition{
		ID:              order.ID,
		ExpectedVersion: order.Version,
		To:              to,
		At:              now,
	}); err != nil {
		return err
	}
	if err := tx.Outbox().Emit(ctx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusEvent{
			OrderID:    order.ID,
			UserID:     order.UserID,
			FromStatus: order.Status,
			ToStatus:   to,
			OccurredAt: now,
		},
		OccurredAt: now,
	}); err != nil {
		return err
	}

	order.Status = to
	order.Version++
	switch to {
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	case enums.OrderStatusFulfilled:
		order.FulfilledAt = &now
	}
	return nil
}

// loadVisible hides other users' orders from customers as not found.
func loadVisible(ctx context.Context, tx ledger.Tx, actor Actor, id uuid.UUID, lock bool) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if lock {
		order, err = tx.Orders().FindByIDForUpdate(ctx, id)
	} else {
		order, err = tx.Orders().FindByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, ledger.ErrNotFound
	}
	return order, nil
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"order_status": from})
}

func actorRef(actor Actor, source string) *outbox.ActorRef {
	userID := actor.UserID
	return &outbox.ActorRef{UserID: &userID, Role: actor.Role.String(), Source: source}
}

func (s *Service) logTransition(ctx context.Context, order *OrderDTO, msg string) {
	if s.logg == nil || order == nil {
		return
	}
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithField(logCtx, "status", order.Status)
	s.logg.Info(logCtx, msg)
}
