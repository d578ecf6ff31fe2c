package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/store"
	"go.uber.org/zap"
)

// Guard records inbound provider events so each one has its effect at most once.
type Guard struct {
	store       store.Store
	clock       clock.Clock
	logger      *zap.Logger
	maxAttempts int
}

func NewGuard(s store.Store, c clock.Clock, logger *zap.Logger, maxAttempts int) *Guard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Guard{store: s, clock: c, logger: logger, maxAttempts: maxAttempts}
}

func (g *Guard) MaxAttempts() int { return g.maxAttempts }

// AssertNotProcessed inserts the event row in its own unit of work. The insert
// is the linearization point: of N concurrent deliveries of the same event
// exactly one returns nil, the rest get ErrDuplicateWebhookEvent.
func (g *Guard) AssertNotProcessed(ctx context.Context, provider, externalEventID, eventType string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	event := &domain.WebhookEvent{
		ID:              uuid.New(),
		Provider:        provider,
		ExternalEventID: externalEventID,
		EventType:       eventType,
		Payload:         payload,
		CreatedAt:       g.clock.Now(),
	}
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertWebhookEvent(ctx, event)
	})
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %s:%s", domain.ErrDuplicateWebhookEvent, provider, externalEventID)
	}
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (g *Guard) MarkProcessed(ctx context.Context, provider, externalEventID string) error {
	return g.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkWebhookProcessed(ctx, provider, externalEventID, g.clock.Now())
	})
}

// RecordFailure bumps the attempt counter. It reports true once the event has
// used its retry budget and is a dead letter.
func (g *Guard) RecordFailure(ctx context.Context, provider, externalEventID string, cause error) (bool, error) {
	var attempts int
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		attempts, err = tx.RecordWebhookFailure(ctx, provider, externalEventID, cause.Error())
		return err
	})
	if err != nil {
		return false, err
	}
	dead := attempts >= g.maxAttempts
	if dead {
		g.logger.Error("webhook moved to dead letter",
			zap.String("severity", "critical"),
			zap.String("provider", provider),
			zap.String("event_id", externalEventID),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
	}
	return dead, nil
}

// Retryable lists unprocessed events still inside their retry budget.
func (g *Guard) Retryable(ctx context.Context, createdBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	return g.store.ListRetryableWebhooks(ctx, g.maxAttempts, createdBefore, limit)
}

func (g *Guard) DeadLetters(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	return g.store.ListDeadLetterWebhooks(ctx, g.maxAttempts, limit)
}
