package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EntryRequest describes one journal line. TransactionID is empty for funding
// entries that are not tied to a send.
type EntryRequest struct {
	TransactionID uuid.NullUUID
	AccountID     uuid.UUID
	Type          domain.EntryType
	Amount        decimal.Decimal
	Currency      string
	SourceRef     string
}

// ForTransaction builds a request bound to a transaction.
func ForTransaction(txID, accountID uuid.UUID, typ domain.EntryType, amount decimal.Decimal, currency string) EntryRequest {
	return EntryRequest{
		TransactionID: uuid.NullUUID{UUID: txID, Valid: true},
		AccountID:     accountID,
		Type:          typ,
		Amount:        amount,
		Currency:      currency,
	}
}

type Ledger struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

func New(s store.Store, c clock.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{store: s, clock: c, logger: logger}
}

// RecordEntry appends one entry inside an existing unit of work. The account row
// is locked first, so the balance check and the write see the same persisted
// balance. On any error nothing is written by this call.
func (l *Ledger) RecordEntry(ctx context.Context, tx store.Tx, req EntryRequest) (*domain.LedgerEntry, error) {
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: entry type %q", domain.ErrInvalidRequest, req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	acc, err := tx.LockAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if acc.Currency != req.Currency {
		return nil, fmt.Errorf("%w: account %s holds %s, entry is %s",
			domain.ErrCurrencyMismatch, acc.ID, acc.Currency, req.Currency)
	}

	entry := domain.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: req.TransactionID,
		AccountID:     req.AccountID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		SourceRef:     req.SourceRef,
		CreatedAt:     l.clock.Now(),
	}

	newBalance := acc.Balance.Add(entry.SignedAmount())
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds, acc.Balance, req.Amount)
	}

	last, err := tx.LastSequence(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	entry.Sequence = last + 1
	entry.BalanceAfter = newBalance

	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.UpdateAccountBalance(ctx, acc.ID, newBalance, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(entry.Type)).Inc()
	return &entry, nil
}

// Record appends one entry in its own unit of work.
func (l *Ledger) Record(ctx context.Context, req EntryRequest) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = l.RecordEntry(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetRealBalance recomputes the balance from the journal alone.
func (l *Ledger) GetRealBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, domain.ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	entries, err := l.store.ListEntries(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list entries: %w", err)
	}
	return Sum(entries), nil
}

// VerifyConsistency compares the cached balance with the journal under the
// account lock. A mismatch is reported, logged and counted; it is never repaired.
func (l *Ledger) VerifyConsistency(ctx context.Context, accountID uuid.UUID) error {
	var cached, actual decimal.Decimal
	var replayErr error
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		entries, err := tx.ListEntries(ctx, accountID)
		if err != nil {
			return err
		}
		cached = acc.Balance
		actual, replayErr = Replay(entries)
		return nil
	})
	if err != nil {
		return err
	}

	if replayErr != nil {
		l.reportDrift(accountID, cached, actual, replayErr)
		return fmt.Errorf("account %s: %w", accountID, replayErr)
	}
	if !cached.Equal(actual) {
		drift := &domain.DriftError{AccountID: accountID, Cached: cached, Real: actual}
		l.reportDrift(accountID, cached, actual, drift)
		return drift
	}
	return nil
}

func (l *Ledger) reportDrift(accountID uuid.UUID, cached, actual decimal.Decimal, err error) {
	metrics.LedgerDrift.Inc()
	l.logger.Error("ledger drift detected",
		zap.String("severity", "critical"),
		zap.String("account_id", accountID.String()),
		zap.String("cached_balance", cached.String()),
		zap.String("real_balance", actual.String()),
		zap.Error(err),
	)
}

// VerifyAll checks every account and joins the failures.
func (l *Ledger) VerifyAll(ctx context.Context) error {
	ids, err := l.store.ListAccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.VerifyConsistency(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sum is the signed total of entries: credits minus debits and chargebacks.
func Sum(entries []domain.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedAmount())
	}
	return total
}

// Replay walks entries in sequence order and checks that sequences are gap
// free from 1, that every BalanceAfter matches the running total and that the
// running total never goes negative. It returns the final balance.
func Replay(entries []domain.LedgerEntry) (decimal.Decimal, error) {
	running := decimal.Zero
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return running, fmt.Errorf("%w: expected sequence %d, found %d", domain.ErrLedgerDrift, i+1, e.Sequence)
		}
		running = running.Add(e.SignedAmount())
		if running.IsNegative() {
			return running, fmt.Errorf("%w: negative running balance at sequence %d", domain.ErrLedgerDrift, e.Sequence)
		}
		if !running.Equal(e.BalanceAfter) {
			return running, fmt.Errorf("%w: balance_after %s at sequence %d, replay gives %s",
				domain.ErrLedgerDrift, e.BalanceAfter, e.Sequence, running)
		}
	}
	return running, nil
}
