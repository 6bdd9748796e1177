package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type gormPayments struct {
	conn *gorm.DB
}

func (r *gormPayments) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return translate(r.conn.WithContext(ctx).Create(payment).Error, "create payment")
}

func (r *gormPayments) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.conn.WithContext(ctx).Where("id = ?", id), "find payment")
}

func (r *gormPayments) FindByProviderRef(ctx context.Context, ref string) (*models.Payment, error) {
	q := r.conn.WithContext(ctx).Where("provider_ref = ?", ref).Order("created_at DESC")
	return r.first(q, "find payment by provider ref")
}

func (r *gormPayments) FindByProviderTxID(ctx context.Context, txID string) (*models.Payment, error) {
	return r.first(r.conn.WithContext(ctx).Where("provider_tx_id = ?", txID), "find payment by provider tx")
}

func (r *gormPayments) FindLatestSucceeded(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	q := r.conn.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusSucceeded).
		Order("received_at DESC").
		Order("created_at DESC")
	return r.first(q, "find latest succeeded payment")
}

func (r *gormPayments) List(ctx context.Context, filter ListFilter) ([]models.Payment, error) {
	q := r.conn.WithContext(ctx).Model(&models.Payment{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	q = applyCursor(q, filter.Cursor)

	var payments []models.Payment
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&payments).Error
	if err != nil {
		return nil, translate(err, "list payments")
	}
	return payments, nil
}

func (r *gormPayments) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.conn.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, translate(err, "list order payments")
	}
	return payments, nil
}

func (r *gormPayments) ListInitiatedBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.conn.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusInitiated, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, translate(err, "list initiated payments")
	}
	return payments, nil
}

func (r *gormPayments) Settle(ctx context.Context, s PaymentSettlement) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", s.ID, enums.PaymentStatusInitiated).
		Updates(map[string]any{
			"provider_tx_id": s.ProviderTxID,
			"status":         s.Status,
			"amount_cents":   s.AmountCents,
			"received_at":    s.ReceivedAt,
			"updated_at":     s.ReceivedAt,
		})
	return conditional(res, "settle payment")
}

func (r *gormPayments) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	return conditional(res, "update payment status")
}

func (r *gormPayments) first(q *gorm.DB, op string) (*models.Payment, error) {
	var payment models.Payment
	if err := q.First(&payment).Error; err != nil {
		return nil, translate(err, op)
	}
	return &payment, nil
}
