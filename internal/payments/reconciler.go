package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/ledger"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	maxApplyAttempts = 3
	orderNotFound    = "order not found"
)

// ReconcilerParams wires the payment reconciler.
type ReconcilerParams struct {
	Store        ledger.Store
	ApplyTimeout time.Duration
	Metrics      *metrics.PaymentEventMetrics
	Logger       *logger.Logger
	Clock        func() time.Time
}

// Reconciler applies provider payment events to orders exactly once per
// provider tx id, whatever the delivery order or duplication.
type Reconciler struct {
	store   ledger.Store
	timeout time.Duration
	metrics *metrics.PaymentEventMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		store:   params.Store,
		timeout: params.ApplyTimeout,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     clock,
	}, nil
}

// application is the write plan for an accepted event.
type application struct {
	paymentStatus enums.PaymentStatus
	// orderTo is empty when the order keeps its status.
	orderTo      enums.OrderStatus
	refundTarget *models.Payment
	event        enums.OutboxEventType
}

// ApplyPaymentEvent records ev against its order. Rejections are recorded and
// returned with their result so a redelivery sees the same answer.
func (r *Reconciler) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (*PaymentApplicationResult, error) {
	orderID, err := ev.normalize()
	if err != nil {
		r.metrics.Inc(string(ev.Outcome), enums.EventDispositionRejected.String())
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var result *PaymentApplicationResult
	for attempt := 1; ; attempt++ {
		result, err = r.apply(ctx, ev, orderID)
		if !retryable(err) || attempt >= maxApplyAttempts {
			break
		}
		if r.logg != nil {
			logCtx := r.logg.WithFields(ctx, map[string]any{"provider_tx_id": ev.ProviderTxID, "attempt": attempt})
			r.logg.Debug(logCtx, "payment event raced, retrying")
		}
	}
	if result == nil && err != nil {
		err = ledger.MapError(err, orderNotFound)
	}

	r.observe(ctx, ev, result, err)
	return result, err
}

func retryable(err error) bool {
	return errors.Is(err, ledger.ErrVersionConflict) || errors.Is(err, ledger.ErrDuplicate)
}

// apply runs one attempt. A nil result with an error means the transaction
// aborted; a non-nil result with an error is a committed rejection.
func (r *Reconciler) apply(ctx context.Context, ev PaymentEvent, orderID uuid.UUID) (*PaymentApplicationResult, error) {
	var (
		result    *PaymentApplicationResult
		rejection error
	)
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		result, rejection = nil, nil
		now := r.now()

		rec, err := tx.Idempotency().Find(ctx, ledger.PaymentEventScope, ev.ProviderTxID)
		switch {
		case err == nil:
			stored, err := decodeResult(rec)
			if err != nil {
				return err
			}
			stored.Duplicate = true
			result = stored
			if stored.Rejected() {
				rejection = pkgerrors.New(pkgerrors.Code(stored.ErrorCode), stored.Reason)
			}
			return appendAudit(ctx, tx, ev, stored.OrderID, now, enums.EventDispositionDuplicate, "duplicate delivery", "")
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		target := orderID
		if target == uuid.Nil {
			target, err = refundedOrderID(ctx, tx, ev.RefundOf)
			if err != nil {
				return err
			}
		}

		order, err := lockOrder(ctx, tx, target)
		if err != nil {
			return err
		}
		if order == nil {
			// No idempotency record: a redelivery after the order exists can still apply.
			rejection = pkgerrors.New(pkgerrors.CodeNotFound, orderNotFound)
			result = rejectedResult(ev, ev.OrderID, "", rejection)
			return appendAudit(ctx, tx, ev, ev.OrderID, now, enums.EventDispositionRejected, orderNotFound, string(pkgerrors.CodeNotFound))
		}

		plan, rejected, err := planApplication(ctx, tx, order, ev)
		if err != nil {
			return err
		}
		if rejected != nil {
			rejection = rejected
			result = rejectedResult(ev, order.ID.String(), order.Status, rejected)
			if err := saveResult(ctx, tx, ev.ProviderTxID, order.ID, result); err != nil {
				return err
			}
			return appendAudit(ctx, tx, ev, order.ID.String(), now, enums.EventDispositionRejected, rejected.Message(), string(rejected.Code()))
		}

		result, err = r.commit(ctx, tx, order, ev, plan, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, rejection
}

func lockOrder(ctx context.Context, tx ledger.Tx, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	order, err := tx.Orders().FindByIDForUpdate(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

// refundedOrderID resolves the order of a refund that only names the charge.
func refundedOrderID(ctx context.Context, tx ledger.Tx, refundOf string) (uuid.UUID, error) {
	p, err := tx.Payments().FindByProviderTxID(ctx, refundOf)
	if errors.Is(err, ledger.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return p.OrderID, nil
}

// planApplication runs the order state machine. A non-nil rejection is
// recorded and returned to the caller; err is a storage failure.
func planApplication(ctx context.Context, tx ledger.Tx, order *models.Order, ev PaymentEvent) (plan *application, rejection *pkgerrors.Error, err error) {
	switch ev.Outcome {
	case enums.PaymentOutcomeSucceeded:
		if !order.Status.AwaitingPayment() {
			return nil, invalidTransition(order.Status, ev.Outcome), nil
		}
		if ev.AmountCents != order.TotalCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount mismatch").
				WithDetails(map[string]any{"expected_cents": order.TotalCents, "received_cents": ev.AmountCents}), nil
		}
		return &application{
			paymentStatus: enums.PaymentStatusSucceeded,
			orderTo:       enums.OrderStatusPaid,
			event:         enums.EventOrderPaid,
		}, nil, nil

	case enums.PaymentOutcomeFailed:
		switch order.Status {
		case enums.OrderStatusPendingPayment:
			return &application{
				paymentStatus: enums.PaymentStatusFailed,
				orderTo:       enums.OrderStatusPaymentFailed,
				event:         enums.EventPaymentFailed,
			}, nil, nil
		case enums.OrderStatusPaymentFailed:
			return &application{paymentStatus: enums.PaymentStatusFailed, event: enums.EventPaymentFailed}, nil, nil
		default:
			return nil, invalidTransition(order.Status, ev.Outcome), nil
		}

	case enums.PaymentOutcomeRefunded:
		if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusFulfilled {
			return nil, invalidTransition(order.Status, ev.Outcome), nil
		}
		target, rejected, err := refundTarget(ctx, tx, order, ev)
		if rejected != nil || err != nil {
			return nil, rejected, err
		}
		return &application{
			paymentStatus: enums.PaymentStatusRefunded,
			refundTarget:  target,
			event:         enums.EventPaymentRefunded,
		}, nil, nil
	}
	return nil, invalidEvent("unsupported outcome"), nil
}

func refundTarget(ctx context.Context, tx ledger.Tx, order *models.Order, ev PaymentEvent) (*models.Payment, *pkgerrors.Error, error) {
	var (
		target *models.Payment
		err    error
	)
	if ev.RefundOf != "" {
		target, err = tx.Payments().FindByProviderTxID(ctx, ev.RefundOf)
	} else {
		target, err = tx.Payments().FindLatestSucceeded(ctx, order.ID)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "no settled payment to refund"), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if target.OrderID != order.ID {
		return nil, invalidEvent("refund target belongs to another order"), nil
	}
	if target.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment is not refundable").
			WithDetails(map[string]any{"payment_status": target.Status}), nil
	}
	if ev.AmountCents > target.AmountCents {
		return nil, invalidEvent("refund exceeds captured amount"), nil
	}
	return target, nil, nil
}

func invalidTransition(from enums.OrderStatus, outcome enums.PaymentOutcome) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, "order cannot accept this payment event").
		WithDetails(map[string]any{"order_status": from, "outcome": outcome})
}

// commit writes the payment, the order transition, the idempotency result, the
// audit entry and the outbox event for an accepted event.
func (r *Reconciler) commit(ctx context.Context, tx ledger.Tx, order *models.Order, ev PaymentEvent, plan *application, now time.Time) (*PaymentApplicationResult, error) {
	var (
		payment *models.Payment
		err     error
	)
	if plan.refundTarget != nil {
		payment = plan.refundTarget
		if err := tx.Payments().UpdateStatus(ctx, payment.ID, enums.PaymentStatusSucceeded, enums.PaymentStatusRefunded); err != nil {
			return nil, err
		}
		payment.Status = enums.PaymentStatusRefunded
	} else {
		payment, err = recordPayment(ctx, tx, order, ev, plan.paymentStatus, now)
		if err != nil {
			return nil, err
		}
	}

	orderStatus := order.Status
	if plan.orderTo != "" {
		if err := tx.Orders().Transition(ctx, ledger.OrderTransition{
			ID:              order.ID,
			ExpectedVersion: order.Version,
			To:              plan.orderTo,
			At:              now,
		}); err != nil {
			return nil, err
		}
		orderStatus = plan.orderTo
	}

	paymentID := payment.ID
	result := &PaymentApplicationResult{
		ProviderTxID:  ev.ProviderTxID,
		OrderID:       order.ID.String(),
		PaymentID:     &paymentID,
		Outcome:       ev.Outcome,
		Disposition:   enums.EventDispositionApplied,
		OrderStatus:   orderStatus,
		PaymentStatus: payment.Status,
	}
	if err := saveResult(ctx, tx, ev.ProviderTxID, order.ID, result); err != nil {
		return nil, err
	}
	if err := appendAudit(ctx, tx, ev, order.ID.String(), now, enums.EventDispositionApplied, "", ""); err != nil {
		return nil, err
	}
	if err := tx.Outbox().Emit(ctx, paymentOutboxEvent(plan.event, order, payment, ev, now)); err != nil {
		return nil, err
	}
	return result, nil
}

// recordPayment settles the initiated attempt matching ev.ProviderRef in place,
// or inserts a new row keyed by the provider tx id.
func recordPayment(ctx context.Context, tx ledger.Tx, order *models.Order, ev PaymentEvent, status enums.PaymentStatus, now time.Time) (*models.Payment, error) {
	if ev.ProviderRef != "" {
		existing, err := tx.Payments().FindByProviderRef(ctx, ev.ProviderRef)
		switch {
		case err == nil && existing.OrderID == order.ID && existing.Status == enums.PaymentStatusInitiated:
			if err := tx.Payments().Settle(ctx, ledger.PaymentSettlement{
				ID:           existing.ID,
				ProviderTxID: ev.ProviderTxID,
				Status:       status,
				AmountCents:  ev.AmountCents,
				ReceivedAt:   now,
			}); err != nil {
				return nil, err
			}
			txID, received := ev.ProviderTxID, now
			existing.ProviderTxID = &txID
			existing.Status = status
			existing.AmountCents = ev.AmountCents
			existing.ReceivedAt = &received
			return existing, nil
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return nil, err
		}
	}

	txID, received := ev.ProviderTxID, now
	payment := &models.Payment{
		ID:           uuid.New(),
		OrderID:      order.ID,
		UserID:       order.UserID,
		Provider:     ev.Provider,
		ProviderTxID: &txID,
		AmountCents:  ev.AmountCents,
		Currency:     order.Currency,
		Status:       status,
		ReceivedAt:   &received,
	}
	if ev.ProviderRef != "" {
		ref := ev.ProviderRef
		payment.ProviderRef = &ref
	}
	if err := tx.Payments().Create(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func paymentOutboxEvent(eventType enums.OutboxEventType, order *models.Order, payment *models.Payment, ev PaymentEvent, now time.Time) outbox.DomainEvent {
	actor := &outbox.ActorRef{Role: "system", Source: ev.Source}
	if eventType == enums.EventOrderPaid {
		return outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: payloads.OrderPaidEvent{
				OrderID:      order.ID,
				UserID:       order.UserID,
				PaymentID:    payment.ID,
				ProviderTxID: ev.ProviderTxID,
				AmountCents:  ev.AmountCents,
				Currency:     order.Currency,
				PaidAt:       now,
			},
			OccurredAt: now,
		}
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		Data: payloads.PaymentStatusEvent{
			OrderID:      order.ID,
			PaymentID:    payment.ID,
			Provider:     payment.Provider.String(),
			ProviderRef:  payment.ProviderRef,
			ProviderTxID: payment.ProviderTxID,
			Status:       payment.Status,
			AmountCents:  ev.AmountCents,
		},
		OccurredAt: now,
	}
}

func rejectedResult(ev PaymentEvent, orderID string, status enums.OrderStatus, rejection error) *PaymentApplicationResult {
	result := &PaymentApplicationResult{
		ProviderTxID: ev.ProviderTxID,
		OrderID:      orderID,
		Outcome:      ev.Outcome,
		Disposition:  enums.EventDispositionRejected,
		OrderStatus:  status,
		ErrorCode:    string(pkgerrors.CodeOf(rejection)),
	}
	if typed := pkgerrors.As(rejection); typed != nil {
		result.Reason = typed.Message()
	}
	return result
}

func saveResult(ctx context.Context, tx ledger.Tx, txID string, orderID uuid.UUID, result *PaymentApplicationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	id := orderID
	return tx.Idempotency().Insert(ctx, &models.IdempotencyRecord{
		Scope:   ledger.PaymentEventScope,
		Key:     txID,
		OrderID: &id,
		Result:  raw,
	})
}

func decodeResult(rec *models.IdempotencyRecord) (*PaymentApplicationResult, error) {
	var stored PaymentApplicationResult
	if err := json.Unmarshal(rec.Result, &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode payment event result")
	}
	return &stored, nil
}

func appendAudit(ctx context.Context, tx ledger.Tx, ev PaymentEvent, orderID string, now time.Time, disposition enums.EventDisposition, reason, code string) error {
	entry := &models.PaymentEventLog{
		ID:           uuid.New(),
		ProviderTxID: ev.ProviderTxID,
		OrderID:      orderID,
		Outcome:      string(ev.Outcome),
		AmountCents:  ev.AmountCents,
		Source:       ev.Source,
		Disposition:  disposition,
		ReceivedAt:   now,
	}
	if reason != "" {
		entry.Reason = &reason
	}
	if code != "" {
		entry.ErrorCode = &code
	}
	return tx.Audit().Append(ctx, entry)
}

func (r *Reconciler) observe(ctx context.Context, ev PaymentEvent, result *PaymentApplicationResult, err error) {
	disposition := "error"
	switch {
	case result != nil && result.Duplicate:
		disposition = enums.EventDispositionDuplicate.String()
	case result != nil:
		disposition = result.Disposition.String()
	}
	r.metrics.Inc(string(ev.Outcome), disposition)

	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"provider_tx_id": ev.ProviderTxID,
		"order_id":       ev.OrderID,
		"outcome":        ev.Outcome,
		"disposition":    disposition,
	})
	switch {
	case result == nil && err != nil:
		r.logg.Error(logCtx, "payment event not applied", err)
	case err != nil:
		r.logg.Warn(logCtx, "payment event rejected")
	default:
		r.logg.Info(logCtx, "payment event processed")
	}
}
