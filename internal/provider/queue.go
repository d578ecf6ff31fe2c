package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Delivery is a callback a sandbox provider owes the platform.
type Delivery struct {
	Provider  string
	DueAt     time.Time
	Body      []byte
	Signature string
	Attempts  int
}

// Sink receives due callbacks, normally the webhook endpoint logic.
type Sink func(ctx context.Context, provider string, body []byte, signature string) error

const maxDeliveryAttempts = 3

// EventQueue holds outbound sandbox callbacks until they are due. Time is
// passed in explicitly so tests decide when callbacks land.
type EventQueue struct {
	mu      sync.Mutex
	pending []Delivery
	retry   time.Duration
	logger  *zap.Logger
}

func NewEventQueue(logger *zap.Logger) *EventQueue {
	return &EventQueue{retry: 5 * time.Second, logger: logger}
}

func (q *EventQueue) Enqueue(d Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, d)
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Deliver hands every callback due at now to sink, oldest first. A failed
// delivery is requeued a few times and then dropped, like a provider giving up.
func (q *EventQueue) Deliver(ctx context.Context, now time.Time, sink Sink) (int, error) {
	q.mu.Lock()
	var due, later []Delivery
	for _, d := range q.pending {
		if d.DueAt.After(now) {
			later = append(later, d)
		} else {
			due = append(due, d)
		}
	}
	q.pending = later
	q.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })

	delivered := 0
	var errs []error
	for i, d := range due {
		if err := ctx.Err(); err != nil {
			for _, rest := range due[i:] {
				q.Enqueue(rest)
			}
			return delivered, err
		}
		if err := sink(ctx, d.Provider, d.Body, d.Signature); err != nil {
			errs = append(errs, err)
			d.Attempts++
			if d.Attempts < maxDeliveryAttempts {
				d.DueAt = now.Add(q.retry)
				q.Enqueue(d)
			} else {
				q.logger.Warn("sandbox callback dropped", zap.String("provider", d.Provider), zap.Error(err))
			}
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Run delivers due callbacks every interval until ctx is done.
func (q *EventQueue) Run(ctx context.Context, interval time.Duration, now func() time.Time, sink Sink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Deliver(ctx, now(), sink); err != nil {
				q.logger.Warn("sandbox callback delivery failed", zap.Error(err))
			}
		}
	}
}
