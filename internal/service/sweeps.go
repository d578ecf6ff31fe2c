package service

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"go.uber.org/zap"
)

// webhookRetryDelay keeps the sweep away from events still being handled inline.
const webhookRetryDelay = 30 * time.Second

// ExpireAuthorizations closes payments that were authorized but never captured
// within the TTL and releases any wallet debit.
func (o *Orchestrator) ExpireAuthorizations(ctx context.Context, now time.Time) (int, error) {
	return o.sweep(ctx, "expire_authorizations", domain.StatusPendingPayment, now.Add(-o.policy.AuthorizationTTL), change{
		event:  domain.EventExpireAuth,
		from:   []domain.Status{domain.StatusPendingPayment},
		reason: "authorization expired",
		mutate: o.releaseDebit,
	})
}

// CancelStale cancels transactions that never reached the payment provider.
func (o *Orchestrator) CancelStale(ctx context.Context, now time.Time) (int, error) {
	return o.sweep(ctx, "cancel_stale", domain.StatusCreated, now.Add(-o.policy.StaleCreatedTTL), change{
		event:  domain.EventCancelRequested,
		from:   []domain.Status{domain.StatusCreated},
		reason: "stale: no payment initiated",
		mutate: o.releaseDebit,
	})
}

// TimeoutPayouts acts on payouts with no provider answer after PayoutTimeout,
// according to the configured policy.
func (o *Orchestrator) TimeoutPayouts(ctx context.Context, now time.Time) (int, error) {
	var c change
	switch o.policy.PayoutTimeoutPolicy {
	case config.PayoutTimeoutFail:
		c = change{event: domain.EventPayoutFailed, reason: "payout timed out"}
	case config.PayoutTimeoutCompensate:
		c = change{event: domain.EventCompensationTriggered, reason: "payout timed out"}
	default:
		return 0, nil
	}
	c.from = []domain.Status{domain.StatusPayoutInitiated, domain.StatusPayoutProcessing}

	cutoff := now.Add(-o.policy.PayoutTimeout)
	total := 0
	for _, status := range c.from {
		n, err := o.sweep(ctx, "timeout_payouts", status, cutoff, c)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *Orchestrator) sweep(ctx context.Context, job string, status domain.Status, cutoff time.Time, c change) (int, error) {
	due, err := o.store.ListTransactionsByStatus(ctx, status, cutoff, o.policy.SweepBatch)
	if err != nil {
		return 0, err
	}
	c.actor = domain.System
	c.lenient = true

	moved := 0
	var errs []error
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		_, applied, err := o.transition(ctx, t.ID, c)
		if err != nil {
			o.logger.Error("sweep transition failed",
				zap.String("job", job),
				zap.String("transaction_id", t.ID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if applied {
			moved++
			metrics.Sweeps.WithLabelValues(job).Inc()
		}
	}
	if moved > 0 {
		o.logger.Info("sweep finished", zap.String("job", job), zap.Int("moved", moved))
	}
	return moved, errors.Join(errs...)
}

// RetryWebhooks re-dispatches stored events that failed and are still within
// their attempt budget.
func (o *Orchestrator) RetryWebhooks(ctx context.Context, now time.Time) (int, error) {
	due, err := o.guard.Retryable(ctx, now.Add(-webhookRetryDelay), o.policy.SweepBatch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, ev := range due {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := o.RetryWebhook(ctx, ev); err != nil {
			continue
		}
		done++
		metrics.Sweeps.WithLabelValues("retry_webhooks").Inc()
	}
	return done, nil
}
