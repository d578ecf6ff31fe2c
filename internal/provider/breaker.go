package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// call runs fn through the breaker. Transport errors and an open circuit both
// surface as ErrProviderCommunication; a FAILED business answer is a result,
// not an error, and does not trip the breaker.
func call[T any](cb *gobreaker.CircuitBreaker, name, op string, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(name, op, "error").Inc()
		var zero T
		return zero, fmt.Errorf("%w: %s %s: %v", domain.ErrProviderCommunication, name, op, err)
	}
	metrics.ProviderCalls.WithLabelValues(name, op, "ok").Inc()
	return out.(T), nil
}

type BreakerPayment struct {
	next PaymentAdapter
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPayment(next PaymentAdapter, cfg BreakerConfig, logger *zap.Logger) *BreakerPayment {
	return &BreakerPayment{next: next, cb: newBreaker(next.Name(), cfg, logger)}
}

func (b *BreakerPayment) Name() string { return b.next.Name() }

func (b *BreakerPayment) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	return call(b.cb, b.next.Name(), "payment", func() (PaymentResult, error) {
		return b.next.InitiatePayment(ctx, req)
	})
}

type BreakerPayout struct {
	next PayoutAdapter
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPayout(next PayoutAdapter, cfg BreakerConfig, logger *zap.Logger) *BreakerPayout {
	return &BreakerPayout{next: next, cb: newBreaker(next.Name(), cfg, logger)}
}

func (b *BreakerPayout) Name() string { return b.next.Name() }

func (b *BreakerPayout) InitiatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	return call(b.cb, b.next.Name(), "payout", func() (PayoutResult, error) {
		return b.next.InitiatePayout(ctx, req)
	})
}

var (
	_ PaymentAdapter = (*BreakerPayment)(nil)
	_ PayoutAdapter  = (*BreakerPayout)(nil)
)
