package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/notify"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/rates"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	ops     = domain.Actor{Kind: domain.ActorAdmin, ID: "ops-1", Role: domain.RoleOps}
	admin   = domain.Actor{Kind: domain.ActorAdmin, ID: "admin-1", Role: domain.RoleAdmin}
	support = domain.Actor{Kind: domain.ActorAdmin, ID: "support-1", Role: domain.RoleSupport}
)

func userOf(accountID uuid.UUID) domain.Actor {
	return domain.Actor{Kind: domain.ActorUser, ID: accountID.String(), Role: domain.RoleUser}
}

type harness struct {
	o        *Orchestrator
	store    *store.Memory
	ledger   *ledger.Ledger
	clock    *clock.Fake
	queue    *provider.EventQueue
	verifier *webhook.Verifier
	payment  *provider.SandboxPayment
	payout   *provider.SandboxPayout
	notes    *notify.Recorder
}

type options struct {
	payment  provider.Behavior
	payout   provider.Behavior
	policy   func(*Policy)
	attempts int
	reporter map[string]provider.Reporter
}

func testPolicy() Policy {
	return Policy{
		BaseCurrency:              "GBP",
		PayoutCurrency:            "KES",
		Fee:                       decimal.NewFromInt(2),
		ComplianceReasonThreshold: decimal.NewFromInt(300),
		AuthorizationTTL:          30 * time.Minute,
		StaleCreatedTTL:           15 * time.Minute,
		PayoutTimeout:             24 * time.Hour,
		PayoutTimeoutPolicy:       config.PayoutTimeoutNone,
		ChargebackWindow:          120 * 24 * time.Hour,
	}
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := store.NewMemory()
	logger := zap.NewNop()
	// Zero tolerance: tests move the clock far past callback send times.
	v := webhook.NewVerifier(map[string]string{provider.KindSandbox: "whsec_test"}, 0, c)
	q := provider.NewEventQueue(logger)
	pay := provider.NewSandboxPayment(provider.KindSandbox, opts.payment, q, c, v)
	po := provider.NewSandboxPayout(provider.KindSandbox, opts.payout, q, c, v)
	l := ledger.New(s, c, logger)
	notes := &notify.Recorder{}

	reporters := map[string]provider.Reporter{provider.KindSandbox: po}
	for name, r := range opts.reporter {
		reporters[name] = r
	}

	p := testPolicy()
	if opts.policy != nil {
		opts.policy(&p)
	}

	o := New(Deps{
		Store:     s,
		Ledger:    l,
		Guard:     webhook.NewGuard(s, c, logger, opts.attempts),
		Payment:   pay,
		Payout:    po,
		Reporters: reporters,
		Rates:     rates.DefaultStatic(),
		Notifier:  notes,
		Logger:    logger,
		Clock:     c,
	}, p)

	return &harness{o: o, store: s, ledger: l, clock: c, queue: q, verifier: v, payment: pay, payout: po, notes: notes}
}

// account opens a GBP wallet funded with amount.
func (h *harness) account(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acc, err := h.o.OpenAccount(ctx, ops, "GBP")
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.o.FundAccount(ctx, ops, acc.ID, decimal.NewFromInt(amount), "GBP", "seed")
		require.NoError(t, err)
	}
	return acc.ID
}

func (h *harness) send(accountID uuid.UUID, amount int64, funding domain.FundingSource, key string) CreateRequest {
	return CreateRequest{
		Actor:          userOf(accountID),
		AccountID:      accountID,
		Recipient:      "+254700000001",
		Amount:         decimal.NewFromInt(amount),
		FundingSource:  funding,
		IdempotencyKey: key,
	}
}

// sink verifies and applies callbacks the way the HTTP handler does.
func (h *harness) sink(ctx context.Context, name string, body []byte, signature string) error {
	if err := h.verifier.Verify(name, body, signature); err != nil {
		return err
	}
	err := h.o.ProcessWebhook(ctx, name, body)
	if errors.Is(err, domain.ErrDuplicateWebhookEvent) {
		return nil
	}
	return err
}

// drain delivers callbacks due now, including any they cause.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		n, err := h.queue.Deliver(ctx, h.clock.Now(), h.sink)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("callbacks kept arriving")
}

func (h *harness) status(t *testing.T, id uuid.UUID) domain.Status {
	t.Helper()
	tr, err := h.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tr.Status
}

func (h *harness) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (h *harness) path(t *testing.T, id uuid.UUID) []domain.Status {
	t.Helper()
	trail, err := h.store.ListAudit(context.Background(), id)
	require.NoError(t, err)
	out := make([]domain.Status, 0, len(trail))
	for _, a := range trail {
		out = append(out, a.ToStatus)
	}
	return out
}

func entryTypes(entries []domain.LedgerEntry) []domain.EntryType {
	out := make([]domain.EntryType, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Type)
	}
	return out
}

type fixedReporter decimal.Decimal

func (r fixedReporter) Totals(context.Context, string, time.Time, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal(r), nil
}
