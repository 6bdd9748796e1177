package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultExpiryBatchSize = 100

// OrderExpiryJobParams configure the job that cancels orders left unpaid
// past their TTL and returns their reserved stock.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    unpaidOrderExpirer
	TTL       time.Duration
	BatchSize int
}

type unpaidOrderExpirer interface {
	ExpireUnpaid(ctx context.Context, before time.Time, limit int) (int, error)
}

// NewOrderExpiryJob returns nil, nil when ttl is not positive so callers can
// register the result unconditionally.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.TTL <= 0 {
		return nil, nil
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    params.TTL,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders unpaidOrderExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.orders.ExpireUnpaid(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
	})
	if err != nil {
		return fmt.Errorf("expire unpaid orders: %w", err)
	}
	j.logg.Info(logCtx, "unpaid order expiry complete")
	return nil
}
