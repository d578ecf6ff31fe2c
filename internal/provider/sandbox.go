package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/shopspring/decimal"
)

var errSandboxUnavailable = errors.New("sandbox provider unavailable")

// Behavior controls how a sandbox provider answers.
type Behavior struct {
	// Delay before the callback is due.
	Delay time.Duration
	// FailureRate is the probability in [0,1] that an accepted request fails.
	FailureRate float64
	// FailWhen, if set, decides failure deterministically and overrides FailureRate.
	FailWhen func(transactionID uuid.UUID) bool
	// Immediate settles synchronously with no callback.
	Immediate bool
}

// Signer produces the signature header for a callback body.
type Signer interface {
	Sign(provider string, payload []byte, at time.Time) (string, error)
}

type sandbox struct {
	name     string
	behavior Behavior
	queue    *EventQueue
	clock    clock.Clock
	signer   Signer
	down     atomic.Bool

	mu      sync.Mutex
	rng     *rand.Rand
	settled map[uuid.UUID]settlement
}

type settlement struct {
	amount   decimal.Decimal
	currency string
	at       time.Time
}

func newSandbox(name string, b Behavior, q *EventQueue, c clock.Clock, s Signer) *sandbox {
	return &sandbox{
		name:     name,
		behavior: b,
		queue:    q,
		clock:    c,
		signer:   s,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		settled:  make(map[uuid.UUID]settlement),
	}
}

func (s *sandbox) Name() string { return s.name }

// SetDown makes every call fail at the transport level.
func (s *sandbox) SetDown(down bool) { s.down.Store(down) }

func (s *sandbox) fails(txID uuid.UUID) bool {
	if s.behavior.FailWhen != nil {
		return s.behavior.FailWhen(txID)
	}
	if s.behavior.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.behavior.FailureRate
}

func (s *sandbox) reference(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (s *sandbox) schedule(eventType string, data webhook.Data) error {
	due := s.clock.Now().Add(s.behavior.Delay)
	body, err := json.Marshal(webhook.Payload{
		EventID: "evt_" + uuid.NewString(),
		Type:    eventType,
		Data:    data,
	})
	if err != nil {
		return err
	}
	// Signed for the moment it is sent, not when it was scheduled.
	sig, err := s.signer.Sign(s.name, body, due)
	if err != nil {
		return err
	}
	s.queue.Enqueue(Delivery{Provider: s.name, DueAt: due, Body: body, Signature: sig})
	return nil
}

// SandboxPayment simulates a card acquirer: it accepts the request and calls
// back with payment.success or payment.failed.
type SandboxPayment struct {
	*sandbox
}

func NewSandboxPayment(name string, b Behavior, q *EventQueue, c clock.Clock, s Signer) *SandboxPayment {
	return &SandboxPayment{sandbox: newSandbox(name, b, q, c, s)}
}

func (p *SandboxPayment) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	if p.down.Load() {
		return PaymentResult{}, errSandboxUnavailable
	}
	ref := p.reference("pay")
	failed := p.fails(req.TransactionID)

	if p.behavior.Immediate {
		if failed {
			return PaymentResult{Status: StatusFailed, ProviderReference: ref, Error: "card declined"}, nil
		}
		p.settle(req.TransactionID, req.Amount, req.Currency)
		return PaymentResult{Status: StatusSucceeded, ProviderReference: ref}, nil
	}

	eventType := webhook.TypePaymentSuccess
	data := webhook.Data{TransactionID: req.TransactionID, ProviderReference: ref}
	if failed {
		eventType = webhook.TypePaymentFailed
		data.Reason = "card declined"
	} else {
		p.settle(req.TransactionID, req.Amount, req.Currency)
	}
	if err := p.schedule(eventType, data); err != nil {
		return PaymentResult{}, fmt.Errorf("schedule callback: %w", err)
	}
	return PaymentResult{Status: StatusPending, ProviderReference: ref, ClientSecret: "secret_" + ref}, nil
}

// SandboxPayout simulates a mobile money network.
type SandboxPayout struct {
	*sandbox
}

func NewSandboxPayout(name string, b Behavior, q *EventQueue, c clock.Clock, s Signer) *SandboxPayout {
	return &SandboxPayout{sandbox: newSandbox(name, b, q, c, s)}
}

func (p *SandboxPayout) InitiatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	if err := ctx.Err(); err != nil {
		return PayoutResult{}, err
	}
	if p.down.Load() {
		return PayoutResult{}, errSandboxUnavailable
	}
	ref := p.reference("po")
	failed := p.fails(req.TransactionID)

	if p.behavior.Immediate {
		if failed {
			return PayoutResult{Status: StatusFailed, ProviderReference: ref, Error: "recipient unreachable"}, nil
		}
		p.settle(req.TransactionID, req.FundingAmount, req.FundingCurrency)
		return PayoutResult{Status: StatusSucceeded, ProviderReference: ref}, nil
	}

	eventType := webhook.TypePayoutSuccess
	data := webhook.Data{TransactionID: req.TransactionID, ProviderReference: ref}
	if failed {
		eventType = webhook.TypePayoutFailed
		data.Reason = "recipient unreachable"
	} else {
		p.settle(req.TransactionID, req.FundingAmount, req.FundingCurrency)
	}
	if err := p.schedule(eventType, data); err != nil {
		return PayoutResult{}, fmt.Errorf("schedule callback: %w", err)
	}
	return PayoutResult{Status: StatusPending, ProviderReference: ref}, nil
}

// settle records money the provider considers moved, once per transaction.
func (s *sandbox) settle(txID uuid.UUID, amount decimal.Decimal, currency string) {
	if !amount.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settled[txID]; ok {
		return
	}
	s.settled[txID] = settlement{amount: amount, currency: currency, at: s.clock.Now()}
}

// Totals implements Reporter over the sandbox's own settlement book.
func (s *sandbox) Totals(ctx context.Context, currency string, start, end time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, st := range s.settled {
		if st.currency != currency || st.at.Before(start) || st.at.After(end) {
			continue
		}
		total = total.Add(st.amount)
	}
	return total, nil
}

var (
	_ PaymentAdapter = (*SandboxPayment)(nil)
	_ PayoutAdapter  = (*SandboxPayout)(nil)
	_ Reporter       = (*SandboxPayout)(nil)
)
