package provider

import (
	"fmt"

	"github.com/punchamoorthee/remitledger/internal/clock"
	"go.uber.org/zap"
)

const KindSandbox = "sandbox"

type Config struct {
	Payment         string
	Payout          string
	PaymentBehavior Behavior
	PayoutBehavior  Behavior
	Breaker         BreakerConfig
}

// Set is the wired provider collaborators for one process.
type Set struct {
	Payment   PaymentAdapter
	Payout    PayoutAdapter
	Reporters map[string]Reporter
	Queue     *EventQueue
}

// New builds adapters from cfg. Each adapter is wrapped in a circuit breaker.
func New(cfg Config, queue *EventQueue, c clock.Clock, signer Signer, logger *zap.Logger) (*Set, error) {
	set := &Set{Reporters: make(map[string]Reporter), Queue: queue}

	switch cfg.Payment {
	case KindSandbox:
		set.Payment = NewBreakerPayment(NewSandboxPayment(KindSandbox, cfg.PaymentBehavior, queue, c, signer), cfg.Breaker, logger)
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Payment)
	}

	switch cfg.Payout {
	case KindSandbox:
		payout := NewSandboxPayout(KindSandbox, cfg.PayoutBehavior, queue, c, signer)
		set.Reporters[payout.Name()] = payout
		set.Payout = NewBreakerPayout(payout, cfg.Breaker, logger)
	default:
		return nil, fmt.Errorf("unsupported payout provider %q", cfg.Payout)
	}

	return set, nil
}
