package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"go.uber.org/zap"
)

// ProcessWebhook applies one verified provider callback at most once. A
// redelivery returns ErrDuplicateWebhookEvent, which callers acknowledge.
// A dispatch failure leaves the event unprocessed for the retry sweep.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, provider string, raw []byte) error {
	p, err := webhook.Parse(raw)
	if err != nil {
		metrics.Webhooks.WithLabelValues(provider, "invalid").Inc()
		return err
	}

	if err := o.guard.AssertNotProcessed(ctx, provider, p.EventID, p.Type, raw); err != nil {
		if errors.Is(err, domain.ErrDuplicateWebhookEvent) {
			metrics.Webhooks.WithLabelValues(provider, "duplicate").Inc()
			o.logger.Info("duplicate webhook ignored",
				zap.String("provider", provider),
				zap.String("event_id", p.EventID),
			)
		}
		return err
	}
	return o.settle(ctx, provider, p)
}

// RetryWebhook re-dispatches a stored event that has not been processed yet.
func (o *Orchestrator) RetryWebhook(ctx context.Context, ev domain.WebhookEvent) error {
	if ev.Processed {
		return nil
	}
	p, err := webhook.Parse(ev.Payload)
	if err != nil {
		if _, rerr := o.guard.RecordFailure(ctx, ev.Provider, ev.ExternalEventID, err); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return o.settle(ctx, ev.Provider, p)
}

func (o *Orchestrator) settle(ctx context.Context, provider string, p *webhook.Payload) error {
	if err := o.dispatch(ctx, p); err != nil {
		metrics.Webhooks.WithLabelValues(provider, "failed").Inc()
		o.logger.Warn("webhook dispatch failed",
			zap.String("provider", provider),
			zap.String("event_id", p.EventID),
			zap.String("type", p.Type),
			zap.Error(err),
		)
		if _, rerr := o.guard.RecordFailure(ctx, provider, p.EventID, err); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}

	if err := o.guard.MarkProcessed(ctx, provider, p.EventID); err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	metrics.Webhooks.WithLabelValues(provider, "processed").Inc()
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, p *webhook.Payload) error {
	id := p.Data.TransactionID
	if id == uuid.Nil {
		return fmt.Errorf("%w: webhook %s has no transaction_id", domain.ErrInvalidRequest, p.EventID)
	}

	switch p.Type {
	case webhook.TypePaymentSuccess:
		return o.HandlePaymentSuccess(ctx, id, p.Data.ProviderReference)
	case webhook.TypePaymentFailed:
		return o.HandlePaymentFailure(ctx, id, p.Data.Reason)
	case webhook.TypePayoutSuccess:
		return o.HandlePayoutSuccess(ctx, id, p.Data.ProviderReference)
	case webhook.TypePayoutFailed:
		return o.HandlePayoutFailure(ctx, id, p.Data.Reason)
	case webhook.TypePaymentDisputed:
		return o.disputeReported(ctx, id, p.Data.Reason)
	default:
		o.logger.Warn("unhandled webhook type",
			zap.String("event_id", p.EventID),
			zap.String("type", p.Type),
		)
		return nil
	}
}

func (o *Orchestrator) DeadLetters(ctx context.Context, actor domain.Actor, limit int) ([]domain.WebhookEvent, error) {
	if err := Authorize(actor, CapViewDeadLetters); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = o.policy.SweepBatch
	}
	return o.guard.DeadLetters(ctx, limit)
}
