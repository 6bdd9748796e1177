package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type gormOrders struct {
	conn *gorm.DB
}

func (r *gormOrders) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Version == 0 {
		order.Version = 1
	}
	for i := range order.LineItems {
		if order.LineItems[i].ID == uuid.Nil {
			order.LineItems[i].ID = uuid.New()
		}
		order.LineItems[i].OrderID = order.ID
	}
	return translate(r.conn.WithContext(ctx).Create(order).Error, "create order")
}

func (r *gormOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(r.conn.WithContext(ctx).Where("id = ?", id), "find order")
}

func (r *gormOrders) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	q := r.conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id)
	return r.first(q, "lock order")
}

func (r *gormOrders) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	q := r.conn.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key)
	return r.first(q, "find order by idempotency key")
}

func (r *gormOrders) List(ctx context.Context, filter ListFilter) ([]models.Order, error) {
	q := r.conn.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	q = applyCursor(q, filter.Cursor)

	var orders []models.Order
	err := q.Preload("LineItems", orderLinesByPosition).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&orders).Error
	if err != nil {
		return nil, translate(err, "list orders")
	}
	return orders, nil
}

func (r *gormOrders) ListAwaitingPaymentBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.conn.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusPaymentFailed}, before).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Preload("LineItems", orderLinesByPosition).Find(&orders).Error; err != nil {
		return nil, translate(err, "list unpaid orders")
	}
	return orders, nil
}

func (r *gormOrders) Transition(ctx context.Context, t OrderTransition) error {
	updates := map[string]any{
		"status":     t.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": t.At,
	}
	switch t.To {
	case enums.OrderStatusPaid:
		updates["paid_at"] = t.At
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = t.At
	case enums.OrderStatusFulfilled:
		updates["fulfilled_at"] = t.At
	}
	res := r.conn.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", t.ID, t.ExpectedVersion).
		Updates(updates)
	return conditional(res, "transition order")
}

func (r *gormOrders) first(q *gorm.DB, op string) (*models.Order, error) {
	var order models.Order
	if err := q.Preload("LineItems", orderLinesByPosition).First(&order).Error; err != nil {
		return nil, translate(err, op)
	}
	return &order, nil
}

func orderLinesByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// applyCursor continues a newest-first keyset scan after cursor.
func applyCursor(q *gorm.DB, cursor *pagination.Cursor) *gorm.DB {
	if cursor == nil {
		return q
	}
	return q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
}
