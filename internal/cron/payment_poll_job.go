package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultPollAfter     = 5 * time.Minute
	defaultPollBatchSize = 50
)

// PaymentPollJobParams configure the job that settles payments whose
// provider notification never arrived.
type PaymentPollJobParams struct {
	Logger    *logger.Logger
	Payments  pendingPaymentPoller
	PollAfter time.Duration
	BatchSize int
}

type pendingPaymentPoller interface {
	PollPending(ctx context.Context, before time.Time, limit int) (payments.PollSummary, error)
}

func NewPaymentPollJob(params PaymentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	after := params.PollAfter
	if after <= 0 {
		after = defaultPollAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPollBatchSize
	}
	return &paymentPollJob{
		logg:     params.Logger,
		payments: params.Payments,
		after:    after,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentPollJob struct {
	logg     *logger.Logger
	payments pendingPaymentPoller
	after    time.Duration
	batch    int
	now      func() time.Time
}

func (j *paymentPollJob) Name() string { return "payment-poll" }

func (j *paymentPollJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	summary, err := j.payments.PollPending(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"checked": summary.Checked,
		"pending": summary.Pending,
		"applied": summary.Applied,
		"failed":  summary.Failed,
	})
	if err != nil {
		return fmt.Errorf("poll pending payments: %w", err)
	}
	j.logg.Info(logCtx, "pending payment poll complete")
	return nil
}
