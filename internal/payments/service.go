package payments

import (
	"context"
	"fmt"
	"strings"
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

const paymentNotFound = "payment not found"

type eventApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (*PaymentApplicationResult, error)
}

// ServiceParams wires payment initiation and queries.
type ServiceParams struct {
	Store      ledger.Store
	Provider   Provider
	Reconciler eventApplier
	Currency   string
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Service starts captures with the configured provider and exposes payment
// queries. Provider calls always happen between ledger transactions.
type Service struct {
	store      ledger.Store
	provider   Provider
	reconciler eventApplier
	currency   string
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		store:      params.Store,
		provider:   params.Provider,
		reconciler: params.Reconciler,
		currency:   currency,
		logg:       params.Logger,
		now:        clock,
	}, nil
}

// Initiate opens a capture attempt for an order awaiting payment.
func (s *Service) Initiate(ctx context.Context, userID, orderID uuid.UUID) (*InitiateResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}

	var (
		order    *models.Order
		attempts int
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := payableOrder(ctx, tx, userID, orderID, false)
		if err != nil {
			return err
		}
		existing, err := tx.Payments().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, attempts = o, len(existing)
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, "order not found")
	}

	currency := order.Currency
	if currency == "" {
		currency = s.currency
	}
	charge, err := s.provider.Initiate(ctx, ChargeRequest{
		OrderID:     order.ID,
		UserID:      order.UserID,
		AmountCents: order.TotalCents,
		Currency:    currency,
		Attempt:     attempts + 1,
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initiate payment")
		}
		s.logError(ctx, orderID, "payment initiation failed", err)
		return nil, err
	}

	ref := charge.ProviderRef
	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Provider:    s.provider.Name(),
		ProviderRef: &ref,
		AmountCents: order.TotalCents,
		Currency:    currency,
		Status:      enums.PaymentStatusInitiated,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		// The order may have settled while the provider call was in flight.
		if _, err := payableOrder(ctx, tx, userID, orderID, true); err != nil {
			return err
		}
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return err
		}
		now := s.now()
		return tx.Outbox().Emit(ctx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{UserID: &userID, Role: enums.UserRoleCustomer.String(), Source: "api"},
			Data: payloads.PaymentStatusEvent{
				OrderID:     order.ID,
				PaymentID:   payment.ID,
				Provider:    payment.Provider.String(),
				ProviderRef: payment.ProviderRef,
				Status:      payment.Status,
				AmountCents: payment.AmountCents,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, ledger.MapError(err, "order not found")
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"payment_id": payment.ID.String(), "provider": payment.Provider, "attempt": attempts + 1})
		s.logg.Info(logCtx, "payment initiated")
	}
	return &InitiateResult{Payment: NewPaymentDTO(*payment), ClientSecret: charge.ClientSecret}, nil
}

func payableOrder(ctx context.Context, tx ledger.Tx, userID, orderID uuid.UUID, lock bool) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if lock {
		order, err = tx.Orders().FindByIDForUpdate(ctx, orderID)
	} else {
		order, err = tx.Orders().FindByID(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	if !order.Status.AwaitingPayment() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is not awaiting payment").
			WithDetails(map[string]any{"order_status": order.Status})
	}
	return order, nil
}

// Get returns a payment visible to the caller. Admins see every payment.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, admin bool, id uuid.UUID) (*PaymentDTO, error) {
	var out *PaymentDTO
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.Payments().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !admin && p.UserID != userID {
			return ledger.ErrNotFound
		}
		dto := NewPaymentDTO(*p)
		out = &dto
		return nil
	})
	if err != nil {
		return nil, ledger.MapError(err, paymentNotFound)
	}
	return out, nil
}

// List pages the caller's payments newest first. Admins list every owner.
func (s *Service) List(ctx context.Context, userID uuid.UUID, admin bool, params pagination.Params) (*pagination.Page[PaymentDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter := ledger.ListFilter{Cursor: cursor, Limit: params.Limit}
	if !admin {
		filter.UserID = &userID
	}

	var rows []models.Payment
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rows, err = tx.Payments().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, ledger.MapError(err, paymentNotFound)
	}

	page := pagination.BuildPage(rows, params.Limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	items := make([]PaymentDTO, 0, len(page.Items))
	for _, p := range page.Items {
		items = append(items, NewPaymentDTO(p))
	}
	return &pagination.Page[PaymentDTO]{Items: items, NextCursor: page.NextCursor}, nil
}

// PollPending asks the provider about initiated payments created before the
// cutoff and feeds settled outcomes to the reconciler.
func (s *Service) PollPending(ctx context.Context, before time.Time, limit int) (PollSummary, error) {
	var summary PollSummary
	if s.reconciler == nil {
		return summary, fmt.Errorf("payment reconciler required")
	}

	var pending []models.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		pending, err = tx.Payments().ListInitiatedBefore(ctx, before, limit)
		return err
	})
	if err != nil {
		return summary, ledger.MapError(err, paymentNotFound)
	}

	var errs error
	for _, p := range pending {
		if p.Provider != s.provider.Name() || p.ProviderRef == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, multierr.Append(errs, err)
		}
		summary.Checked++

		ev, err := s.provider.Lookup(ctx, *p.ProviderRef)
		if err != nil {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("lookup payment %s: %w", p.ID, err))
			continue
		}
		if ev == nil {
			summary.Pending++
			continue
		}
		if ev.OrderID == "" {
			ev.OrderID = p.OrderID.String()
		}
		if ev.ProviderRef == "" {
			ev.ProviderRef = *p.ProviderRef
		}
		ev.Source = "poll"

		result, err := s.reconciler.ApplyPaymentEvent(ctx, *ev)
		switch {
		case result != nil:
			summary.Applied++
		case err != nil:
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("apply payment %s: %w", p.ID, err))
		}
	}
	return summary, errs
}

func (s *Service) logError(ctx context.Context, orderID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), msg, err)
}
