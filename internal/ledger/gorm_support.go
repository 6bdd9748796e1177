package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type gormIdempotency struct {
	conn *gorm.DB
}

func (r *gormIdempotency) Find(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.conn.WithContext(ctx).
		Where("scope = ? AND key = ?", scope, key).
		First(&record).Error
	if err != nil {
		return nil, translate(err, "find idempotency record")
	}
	return &record, nil
}

func (r *gormIdempotency) Insert(ctx context.Context, record *models.IdempotencyRecord) error {
	return translate(r.conn.WithContext(ctx).Create(record).Error, "insert idempotency record")
}

type gormInventory struct {
	conn *gorm.DB
}

func (r *gormInventory) Reserve(ctx context.Context, productID uuid.UUID, quantity int64) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND available_qty >= ?", productID, quantity).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty - ?", quantity),
			"updated_at":    time.Now().UTC(),
		})
	if err := conditional(res, "reserve inventory"); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrInsufficientStock
		}
		return err
	}
	return nil
}

func (r *gormInventory) Release(ctx context.Context, productID uuid.UUID, quantity int64) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty + ?", quantity),
			"updated_at":    time.Now().UTC(),
		})
	return translate(res.Error, "release inventory")
}

type gormAudit struct {
	conn *gorm.DB
}

func (r *gormAudit) Append(ctx context.Context, entry *models.PaymentEventLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	return translate(r.conn.WithContext(ctx).Create(entry).Error, "append payment event log")
}

func (r *gormAudit) ListByProviderTxID(ctx context.Context, txID string) ([]models.PaymentEventLog, error) {
	var entries []models.PaymentEventLog
	err := r.conn.WithContext(ctx).
		Where("provider_tx_id = ?", txID).
		Order("received_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, translate(err, "list payment event logs")
	}
	return entries, nil
}

type gormOutbox struct {
	conn *gorm.DB
	svc  *outbox.Service
}

func (w *gormOutbox) Emit(ctx context.Context, event outbox.DomainEvent) error {
	if w.svc == nil {
		return errors.New("outbox service not configured")
	}
	return translate(w.svc.Emit(ctx, w.conn, event), "emit outbox event")
}
