package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/punchamoorthee/remitledger/internal/notify"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/rates"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy holds the business knobs fixed at construction time.
type Policy struct {
	BaseCurrency              string
	PayoutCurrency            string
	Fee                       decimal.Decimal
	ComplianceReasonThreshold decimal.Decimal
	// DailySendLimit caps an account's wallet debits per UTC day. Zero disables it.
	DailySendLimit decimal.Decimal
	// RecipientsPerDay caps the distinct recipients an account sends to per
	// UTC day. Zero disables it.
	RecipientsPerDay int
	// GlobalDailyCap caps the platform's committed send volume per UTC day.
	// Zero disables it.
	GlobalDailyCap      decimal.Decimal
	AuthorizationTTL    time.Duration
	StaleCreatedTTL     time.Duration
	PayoutTimeout       time.Duration
	PayoutTimeoutPolicy config.PayoutTimeoutPolicy
	ChargebackWindow    time.Duration
	SweepBatch          int
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		BaseCurrency:              cfg.BaseCurrency,
		PayoutCurrency:            cfg.PayoutCurrency,
		Fee:                       cfg.TransactionFee,
		ComplianceReasonThreshold: cfg.ComplianceReasonThreshold,
		DailySendLimit:            cfg.DailySendLimit,
		RecipientsPerDay:          cfg.RecipientLimitDaily,
		GlobalDailyCap:            cfg.GlobalDailyCap,
		AuthorizationTTL:          cfg.AuthorizationTTL,
		StaleCreatedTTL:           cfg.StaleCreatedTTL,
		PayoutTimeout:             cfg.PayoutTimeout,
		PayoutTimeoutPolicy:       cfg.PayoutTimeoutPolicy,
		ChargebackWindow:          cfg.ChargebackWindow,
		SweepBatch:                100,
	}
}

type Deps struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Guard     *webhook.Guard
	Payment   provider.PaymentAdapter
	Payout    provider.PayoutAdapter
	Reporters map[string]provider.Reporter
	Rates     rates.Provider
	Notifier  notify.Publisher
	Logger    *zap.Logger
	Clock     clock.Clock
}

// Orchestrator owns the transaction lifecycle. Every status change goes
// through the transition table under the transaction's row lock, together
// with its audit entry and any ledger effect, in one unit of work.
type Orchestrator struct {
	store     store.Store
	ledger    *ledger.Ledger
	guard     *webhook.Guard
	payment   provider.PaymentAdapter
	payout    provider.PayoutAdapter
	reporters map[string]provider.Reporter
	rates     rates.Provider
	notifier  notify.Publisher
	logger    *zap.Logger
	clock     clock.Clock
	policy    Policy
}

func New(d Deps, p Policy) *Orchestrator {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if p.SweepBatch <= 0 {
		p.SweepBatch = 100
	}
	return &Orchestrator{
		store:     d.Store,
		ledger:    d.Ledger,
		guard:     d.Guard,
		payment:   d.Payment,
		payout:    d.Payout,
		reporters: d.Reporters,
		rates:     d.Rates,
		notifier:  d.Notifier,
		logger:    d.Logger,
		clock:     d.Clock,
		policy:    p,
	}
}

type CreateRequest struct {
	Actor           domain.Actor
	AccountID       uuid.UUID
	Recipient       string
	Amount          decimal.Decimal
	Currency        string
	ReceiveCurrency string
	IdempotencyKey  string
	FundingSource   domain.FundingSource
	SendingReason   string
	IP              string
}

type CreateResult struct {
	Transaction  *domain.Transaction
	ClientSecret string
	// Replayed is set when the idempotency key was already bound and the
	// original transaction is returned without new side effects.
	Replayed bool
}

var errKeyTaken = errors.New("idempotency key taken")

// CreateTransaction validates, snapshots the rate and fee, and persists the
// transaction with its wallet debit in one unit of work. Provider calls happen
// after commit with no lock held.
func (o *Orchestrator) CreateTransaction(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := Authorize(req.Actor, CapCreateTransaction); err != nil {
		return nil, err
	}
	if err := authorizeAccount(req.Actor, req.AccountID); err != nil {
		return nil, err
	}
	if err := o.validateCreate(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if res, err := o.replay(ctx, req); res != nil || err != nil {
			return res, err
		}
	}

	if req.Amount.GreaterThan(o.policy.ComplianceReasonThreshold) && strings.TrimSpace(req.SendingReason) == "" {
		return nil, fmt.Errorf("%w: a sending reason is required above %s %s",
			domain.ErrComplianceRejected, o.policy.ComplianceReasonThreshold, o.policy.BaseCurrency)
	}

	rate, err := o.rates.Rate(ctx, req.Currency, req.ReceiveCurrency)
	if err != nil {
		return nil, fmt.Errorf("rate lookup: %w", err)
	}

	now := o.clock.Now()
	t := &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       req.AccountID,
		Recipient:       req.Recipient,
		SendAmount:      req.Amount,
		SendCurrency:    req.Currency,
		ReceiveAmount:   req.Amount.Mul(rate).Round(2),
		ReceiveCurrency: req.ReceiveCurrency,
		Fee:             o.policy.Fee,
		ExchangeRate:    rate,
		FundingSource:   req.FundingSource,
		SendingReason:   req.SendingReason,
		Status:          domain.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		t.IdempotencyKey = &key
	}

	err = o.store.WithTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if acc.Frozen {
			return fmt.Errorf("%w: %s", domain.ErrAccountFrozen, acc.FreezeReason)
		}
		if acc.Currency != req.Currency {
			return fmt.Errorf("%w: account holds %s", domain.ErrCurrencyMismatch, acc.Currency)
		}
		if err := o.checkDailyLimit(ctx, tx, acc.ID, t.TotalDebit(), now); err != nil {
			return err
		}
		if err := o.checkRecipientLimit(ctx, tx, acc.ID, t.Recipient, now); err != nil {
			return err
		}
		if err := o.checkGlobalCap(ctx, tx, t.SendCurrency, t.SendAmount, now); err != nil {
			return err
		}

		if err := tx.InsertTransaction(ctx, t); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errKeyTaken
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		if err := tx.InsertAudit(ctx, o.audit(t.ID, "", domain.StatusCreated, domain.EventTransactionCreated, req.Actor, "", req.IP)); err != nil {
			return err
		}
		if t.FundingSource == domain.FundingWallet {
			if _, err := o.ledger.RecordEntry(ctx, tx, ledger.ForTransaction(t.ID, acc.ID, domain.EntryDebit, t.TotalDebit(), t.SendCurrency)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errKeyTaken) {
		// Another caller won the race for this key; its transaction is the answer.
		res, rerr := o.replay(ctx, req)
		if rerr != nil {
			return nil, rerr
		}
		if res == nil {
			return nil, fmt.Errorf("%w: key bound but transaction not visible", domain.ErrDuplicateIdempotencyKey)
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("transaction created",
		zap.String("transaction_id", t.ID.String()),
		zap.String("account_id", t.AccountID.String()),
		zap.String("funding_source", string(t.FundingSource)),
		zap.String("amount", t.SendAmount.String()),
	)

	if t.FundingSource == domain.FundingWallet {
		return o.runWalletFlow(ctx, t)
	}
	return o.runExternalFlow(ctx, t, req)
}

func (o *Orchestrator) validateCreate(req *CreateRequest) error {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = o.policy.BaseCurrency
	}
	req.ReceiveCurrency = strings.ToUpper(strings.TrimSpace(req.ReceiveCurrency))
	if req.ReceiveCurrency == "" {
		req.ReceiveCurrency = o.policy.PayoutCurrency
	}
	switch {
	case !req.Amount.IsPositive():
		return domain.ErrInvalidAmount
	case !req.FundingSource.IsValid():
		return fmt.Errorf("%w: funding source %q", domain.ErrInvalidRequest, req.FundingSource)
	case strings.TrimSpace(req.Recipient) == "":
		return fmt.Errorf("%w: recipient is required", domain.ErrInvalidRequest)
	case len(req.IdempotencyKey) > domain.MaxIdempotencyKeyLength:
		return fmt.Errorf("%w: idempotency key longer than %d bytes", domain.ErrInvalidRequest, domain.MaxIdempotencyKeyLength)
	case req.Currency != o.policy.BaseCurrency:
		return fmt.Errorf("%w: sends are accepted in %s only", domain.ErrCurrencyMismatch, o.policy.BaseCurrency)
	}
	return nil
}

// replay returns the transaction already bound to the request's key, or nil
// when the key is free.
func (o *Orchestrator) replay(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	existing, err := o.store.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing.AccountID != req.AccountID {
		return nil, fmt.Errorf("%w: key belongs to another account", domain.ErrDuplicateIdempotencyKey)
	}
	if !existing.SendAmount.Equal(req.Amount) || existing.Recipient != req.Recipient || existing.FundingSource != req.FundingSource {
		return nil, fmt.Errorf("%w: key reused with a different request", domain.ErrDuplicateIdempotencyKey)
	}
	return &CreateResult{Transaction: existing, Replayed: true}, nil
}

func (o *Orchestrator) checkDailyLimit(ctx context.Context, tx store.Tx, accountID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if !o.policy.DailySendLimit.IsPositive() {
		return nil
	}
	sent, err := tx.SumDebitsSince(ctx, accountID, startOfDay(now))
	if err != nil {
		return fmt.Errorf("daily volume: %w", err)
	}
	if sent.Add(amount).GreaterThan(o.policy.DailySendLimit) {
		return fmt.Errorf("%w: %s already sent today, limit %s", domain.ErrDailyLimitExceeded, sent, o.policy.DailySendLimit)
	}
	return nil
}

func (o *Orchestrator) checkRecipientLimit(ctx context.Context, tx store.Tx, accountID uuid.UUID, recipient string, now time.Time) error {
	if o.policy.RecipientsPerDay <= 0 {
		return nil
	}
	recipients, err := tx.RecipientsSince(ctx, accountID, startOfDay(now))
	if err != nil {
		return fmt.Errorf("daily recipients: %w", err)
	}
	if slices.Contains(recipients, recipient) || len(recipients) < o.policy.RecipientsPerDay {
		return nil
	}
	return fmt.Errorf("%w: %d recipients today", domain.ErrRecipientLimitExceeded, len(recipients))
}

// capStatuses are the statuses whose send amount counts against the global cap.
var capStatuses = []domain.Status{
	domain.StatusPaymentReceived,
	domain.StatusPayoutInitiated,
	domain.StatusPayoutProcessing,
	domain.StatusPayoutSuccess,
}

// checkGlobalCap runs under the sender's account lock only, so concurrent
// sends from different accounts can overshoot the cap by their own amounts.
func (o *Orchestrator) checkGlobalCap(ctx context.Context, tx store.Tx, currency string, amount decimal.Decimal, now time.Time) error {
	if !o.policy.GlobalDailyCap.IsPositive() {
		return nil
	}
	total, err := tx.SumSendAmountsSince(ctx, currency, startOfDay(now), capStatuses)
	if err != nil {
		return fmt.Errorf("global volume: %w", err)
	}
	if total.Add(amount).GreaterThan(o.policy.GlobalDailyCap) {
		o.logger.Warn("global daily cap reached",
			zap.String("currency", currency),
			zap.String("total", total.String()),
			zap.String("cap", o.policy.GlobalDailyCap.String()),
		)
		return fmt.Errorf("%w: %s %s sent today", domain.ErrGlobalDailyCapReached, total, currency)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// runWalletFlow advances a wallet-funded transaction whose debit is already
// committed: the wallet authorizes and captures synchronously, then payout starts.
func (o *Orchestrator) runWalletFlow(ctx context.Context, t *domain.Transaction) (*CreateResult, error) {
	for _, ev := range []domain.Event{domain.EventPaymentAuthorized, domain.EventPaymentCaptured} {
		if _, _, err := o.transition(ctx, t.ID, change{event: ev, actor: domain.System}); err != nil {
			o.logger.Error("wallet capture failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
			return o.current(ctx, t.ID, "")
		}
	}
	if _, err := o.initiatePayout(ctx, t.ID, domain.System, "", payoutStartable); err != nil {
		o.logger.Warn("payout initiation failed",
			zap.String("transaction_id", t.ID.String()),
			zap.Error(err),
		)
	}
	return o.current(ctx, t.ID, "")
}

// runExternalFlow asks the payment provider to collect. On failure the
// transaction stays CREATED, from where it can be cancelled or swept.
func (o *Orchestrator) runExternalFlow(ctx context.Context, t *domain.Transaction, req CreateRequest) (*CreateResult, error) {
	res, err := o.payment.InitiatePayment(ctx, provider.PaymentRequest{
		TransactionID: t.ID,
		Amount:        t.TotalDebit(),
		Currency:      t.SendCurrency,
		Customer:      req.Actor.ID,
	})
	if err == nil && res.Status == provider.StatusFailed {
		err = fmt.Errorf("payment rejected: %s", res.Error)
	}
	if err != nil {
		err = asProviderError(err)
		o.logger.Error("payment initiation failed",
			zap.String("transaction_id", t.ID.String()),
			zap.Error(err),
		)
		cur, cerr := o.current(ctx, t.ID, "")
		if cerr != nil {
			return nil, cerr
		}
		return cur, err
	}

	_, _, err = o.transition(ctx, t.ID, change{
		event:   domain.EventPaymentAuthorized,
		from:    []domain.Status{domain.StatusCreated},
		actor:   domain.System,
		lenient: true,
		mutate: func(_ context.Context, _ store.Tx, tr *domain.Transaction) error {
			if tr.PaymentReference == "" {
				tr.PaymentReference = res.ProviderReference
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	if res.Status == provider.StatusSucceeded {
		if err := o.HandlePaymentSuccess(ctx, t.ID, res.ProviderReference); err != nil {
			return nil, err
		}
	}
	return o.current(ctx, t.ID, res.ClientSecret)
}

func (o *Orchestrator) current(ctx context.Context, id uuid.UUID, clientSecret string) (*CreateResult, error) {
	t, err := o.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Transaction: t, ClientSecret: clientSecret}, nil
}

// InitiatePayout starts (or, from PAYOUT_FAILED, restarts) the payout leg.
func (o *Orchestrator) InitiatePayout(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return o.initiatePayout(ctx, id, domain.System, "", payoutStartable)
}

// payoutStartable lists the statuses the system may start a payout from.
// Operators retry from PAYOUT_FAILED only.
var payoutStartable = []domain.Status{domain.StatusPaymentReceived, domain.StatusPayoutFailed}

func (o *Orchestrator) initiatePayout(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string, from []domain.Status) (*domain.Transaction, error) {
	t, _, err := o.transition(ctx, id, change{
		event:  domain.EventPayoutInitiated,
		from:   from,
		actor:  actor,
		reason: reason,
	})
	if err != nil {
		return nil, err
	}

	req := provider.PayoutRequest{
		TransactionID: t.ID,
		Amount:        t.ReceiveAmount,
		Currency:      t.ReceiveCurrency,
		Recipient:     t.Recipient,
	}
	if t.FundingSource == domain.FundingWallet {
		req.FundingAmount = t.TotalDebit()
		req.FundingCurrency = t.SendCurrency
	}

	res, err := o.payout.InitiatePayout(ctx, req)
	switch {
	case err != nil:
		err = asProviderError(err)
		t, _, terr := o.transition(ctx, id, change{
			event:   domain.EventPayoutFailed,
			from:    []domain.Status{domain.StatusPayoutInitiated},
			actor:   domain.System,
			reason:  err.Error(),
			lenient: true,
		})
		if terr != nil {
			return nil, errors.Join(err, terr)
		}
		return t, err

	case res.Status == provider.StatusFailed:
		t, _, err = o.transition(ctx, id, change{
			event:   domain.EventPayoutFailed,
			from:    []domain.Status{domain.StatusPayoutInitiated},
			actor:   domain.System,
			reason:  res.Error,
			lenient: true,
			mutate:  setPayoutReference(res.ProviderReference),
		})
		return t, err

	case res.Status == provider.StatusSucceeded:
		return o.confirmPayout(ctx, id, res.ProviderReference)

	default:
		return o.setReference(ctx, id, res.ProviderReference)
	}
}

func setPayoutReference(ref string) func(context.Context, store.Tx, *domain.Transaction) error {
	return func(_ context.Context, _ store.Tx, t *domain.Transaction) error {
		if ref != "" {
			t.PayoutReference = ref
		}
		return nil
	}
}

// setReference records the payout reference without moving the status.
func (o *Orchestrator) setReference(ctx context.Context, id uuid.UUID, ref string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := o.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return mapTxErr(err)
		}
		if ref != "" && t.PayoutReference != ref {
			t.PayoutReference = ref
			t.UpdatedAt = o.clock.Now()
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

func (o *Orchestrator) confirmPayout(ctx context.Context, id uuid.UUID, ref string) (*domain.Transaction, error) {
	t, _, err := o.transition(ctx, id, change{
		event:   domain.EventPayoutConfirmed,
		from:    []domain.Status{domain.StatusPayoutInitiated, domain.StatusPayoutProcessing},
		actor:   domain.System,
		lenient: true,
		mutate: func(_ context.Context, _ store.Tx, t *domain.Transaction) error {
			if t.PayoutReference == "" {
				t.PayoutReference = ref
			}
			ends := o.clock.Now().Add(o.policy.ChargebackWindow)
			t.ChargebackWindowEndsAt = &ends
			return nil
		},
	})
	return t, err
}

// HandlePaymentSuccess captures a pending payment and starts the payout. A
// transaction in any other state is left alone.
func (o *Orchestrator) HandlePaymentSuccess(ctx context.Context, id uuid.UUID, ref string) error {
	withRef := func(_ context.Context, _ store.Tx, t *domain.Transaction) error {
		if t.PaymentReference == "" {
			t.PaymentReference = ref
		}
		return nil
	}

	t, _, err := o.transition(ctx, id, change{
		event:   domain.EventPaymentAuthorized,
		from:    []domain.Status{domain.StatusCreated},
		actor:   domain.System,
		lenient: true,
		mutate:  withRef,
	})
	if err != nil {
		return err
	}
	if t.Status == domain.StatusCancelled || t.Status == domain.StatusAuthorizationExpired {
		o.logger.Error("payment captured for a closed transaction; provider refund needed",
			zap.String("severity", "critical"),
			zap.String("transaction_id", id.String()),
			zap.String("status", string(t.Status)),
		)
		return nil
	}

	_, captured, err := o.transition(ctx, id, change{
		event:   domain.EventPaymentCaptured,
		from:    []domain.Status{domain.StatusPendingPayment},
		actor:   domain.System,
		lenient: true,
		mutate:  withRef,
	})
	if err != nil || !captured {
		return err
	}

	if _, err := o.initiatePayout(ctx, id, domain.System, "", payoutStartable); err != nil {
		o.logger.Warn("payout initiation failed", zap.String("transaction_id", id.String()), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) HandlePaymentFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, _, err := o.transition(ctx, id, change{
		event:   domain.EventPaymentFailed,
		from:    []domain.Status{domain.StatusPendingPayment},
		actor:   domain.System,
		reason:  reason,
		lenient: true,
	})
	return err
}

func (o *Orchestrator) HandlePayoutSuccess(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := o.confirmPayout(ctx, id, ref)
	return err
}

func (o *Orchestrator) HandlePayoutFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, _, err := o.transition(ctx, id, change{
		event:   domain.EventPayoutFailed,
		from:    []domain.Status{domain.StatusPayoutInitiated, domain.StatusPayoutProcessing},
		actor:   domain.System,
		reason:  reason,
		lenient: true,
	})
	return err
}

// change describes one guarded status move.
type change struct {
	event domain.Event
	// from whitelists the prior statuses. Empty means whatever the table allows.
	from   []domain.Status
	actor  domain.Actor
	reason string
	ip     string
	// lenient turns an unexpected prior status into a no-op instead of an error.
	lenient bool
	// mutate runs inside the same unit of work after the status is set.
	mutate func(ctx context.Context, tx store.Tx, t *domain.Transaction) error
}

// transition applies c under the transaction's row lock. It returns the
// transaction as persisted and whether the status moved.
func (o *Orchestrator) transition(ctx context.Context, id uuid.UUID, c change) (*domain.Transaction, bool, error) {
	var out *domain.Transaction
	var prev domain.Status
	applied := false

	err := o.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return mapTxErr(err)
		}
		out = t
		prev = t.Status

		if len(c.from) > 0 && !slices.Contains(c.from, t.Status) {
			if c.lenient {
				return nil
			}
			return &domain.TransitionError{From: t.Status, Event: c.event}
		}
		next, err := domain.Transition(t.Status, c.event)
		if err != nil {
			if c.lenient {
				return nil
			}
			return err
		}

		t.Status = next
		t.UpdatedAt = o.clock.Now()
		if c.mutate != nil {
			if err := c.mutate(ctx, tx, t); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if err := tx.InsertAudit(ctx, o.audit(t.ID, prev, next, c.event, c.actor, c.reason, c.ip)); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !applied {
		o.logger.Info("transition skipped",
			zap.String("transaction_id", id.String()),
			zap.String("status", string(out.Status)),
			zap.String("event", string(c.event)),
		)
		return out, false, nil
	}

	metrics.Transitions.WithLabelValues(string(prev), string(out.Status)).Inc()
	o.logger.Info("transaction transitioned",
		zap.String("transaction_id", id.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(out.Status)),
		zap.String("event", string(c.event)),
		zap.String("actor", c.actor.String()),
	)
	if out.IsTerminal() {
		o.notify(ctx, out)
	}
	return out, true, nil
}

// notify is best effort: a failure is logged and never undoes the commit.
func (o *Orchestrator) notify(ctx context.Context, t *domain.Transaction) {
	if err := o.notifier.Publish(ctx, notify.FromTransaction(t, o.clock.Now())); err != nil {
		o.logger.Warn("notification failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
	}
}

func (o *Orchestrator) audit(txID uuid.UUID, from, to domain.Status, ev domain.Event, actor domain.Actor, reason, ip string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		ID:            uuid.New(),
		TransactionID: txID,
		FromStatus:    from,
		ToStatus:      to,
		Event:         ev,
		Actor:         actor,
		Reason:        reason,
		IP:            ip,
		CreatedAt:     o.clock.Now(),
	}
}

// releaseDebit returns a wallet debit to the sender once. Transactions
// without a debit are left alone.
func (o *Orchestrator) releaseDebit(ctx context.Context, tx store.Tx, t *domain.Transaction) error {
	if t.FundingSource != domain.FundingWallet {
		return nil
	}
	debited, err := tx.HasEntry(ctx, t.ID, t.AccountID, domain.EntryDebit)
	if err != nil || !debited {
		return err
	}
	refunded, err := tx.HasEntry(ctx, t.ID, t.AccountID, domain.EntryCreditRefund)
	if err != nil || refunded {
		return err
	}
	_, err = o.ledger.RecordEntry(ctx, tx, ledger.ForTransaction(t.ID, t.AccountID, domain.EntryCreditRefund, t.TotalDebit(), t.SendCurrency))
	return err
}

func asProviderError(err error) error {
	if errors.Is(err, domain.ErrProviderCommunication) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderCommunication, err)
}

func mapTxErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrTransactionNotFound
	}
	return err
}
