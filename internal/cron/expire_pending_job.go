package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
)

const (
	ExpirePendingJobName = "expire-pending-orders"
	expiryNote           = "expired: unpaid"
	expirySource         = "cron"
	defaultBatchSize     = 100
)

type pendingOrders interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error)
}

// ExpirePendingJobParams configure the pending order expiry job.
type ExpirePendingJobParams struct {
	Logger    *logger.Logger
	Orders    pendingOrders
	OlderThan time.Duration
	BatchSize int
}

type expirePendingJob struct {
	logg      *logger.Logger
	orders    pendingOrders
	olderThan time.Duration
	batchSize int
}

// NewExpirePendingJob builds the job that cancels orders left unpaid past
// OlderThan. Cancellation goes through the order state machine, so stock is
// released and history recorded exactly as for an operator cancel.
func NewExpirePendingJob(params ExpirePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.OlderThan <= 0 {
		return nil, fmt.Errorf("pending order ttl must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &expirePendingJob{
		logg:      params.Logger,
		orders:    params.Orders,
		olderThan: params.OlderThan,
		batchSize: batch,
	}, nil
}

func (j *expirePendingJob) Name() string { return ExpirePendingJobName }

// Run expires one batch. A payment that lands between the listing and the
// transition wins: the transition only applies from pending.
func (j *expirePendingJob) Run(ctx context.Context) error {
	ids, err := j.orders.ListStalePending(ctx, j.olderThan, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}

	var (
		errs             error
		expired, skipped int
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		changed, err := j.expire(ctx, id)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		case changed:
			expired++
		default:
			skipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"expired":    expired,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "cron.expire_pending.done")
	return errs
}

func (j *expirePendingJob) expire(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := j.orders.Transition(ctx, orders.TransitionInput{
		OrderID:     id,
		To:          enums.OrderStatusCancelled,
		Note:        expiryNote,
		AllowedFrom: []enums.OrderStatus{enums.OrderStatusPending},
		Source:      expirySource,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return result.Changed, nil
}
