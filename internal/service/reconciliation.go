package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/punchamoorthee/remitledger/internal/store"
	"go.uber.org/zap"
)

// Reconcile compares what the ledger took from wallets in [start, end] with
// what the provider reports having moved, and persists the outcome. The ledger
// side is wallet debits net of refunds, since refunded sends never reach the
// provider.
func (o *Orchestrator) Reconcile(ctx context.Context, actor domain.Actor, provider, currency string, start, end time.Time) (*domain.ReconciliationRun, error) {
	if err := Authorize(actor, CapReconcile); err != nil {
		return nil, err
	}
	reporter, ok := o.reporters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q has no settlement report", domain.ErrInvalidRequest, provider)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: window end must be after start", domain.ErrInvalidRequest)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = o.policy.BaseCurrency
	}

	debits, count, err := o.store.SumEntries(ctx, currency, domain.EntryDebit, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum debits: %w", err)
	}
	refunds, _, err := o.store.SumEntries(ctx, currency, domain.EntryCreditRefund, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum refunds: %w", err)
	}
	reported, err := reporter.Totals(ctx, currency, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: provider totals: %v", domain.ErrProviderCommunication, err)
	}

	ledgerTotal := debits.Sub(refunds)
	run := &domain.ReconciliationRun{
		ID:            uuid.New(),
		Provider:      provider,
		Currency:      currency,
		WindowStart:   start,
		WindowEnd:     end,
		LedgerTotal:   ledgerTotal,
		ProviderTotal: reported,
		Delta:         ledgerTotal.Sub(reported),
		TotalRecords:  count,
		Status:        domain.ReconciliationPass,
		ActorID:       actor.ID,
		CreatedAt:     o.clock.Now(),
	}
	if !run.Delta.IsZero() {
		run.Status = domain.ReconciliationFail
	}

	if err := o.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertReconciliationRun(ctx, run)
	}); err != nil {
		return nil, fmt.Errorf("save reconciliation run: %w", err)
	}

	metrics.Reconciliations.WithLabelValues(provider, string(run.Status)).Inc()
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("currency", currency),
		zap.String("ledger_total", run.LedgerTotal.String()),
		zap.String("provider_total", run.ProviderTotal.String()),
		zap.String("delta", run.Delta.String()),
	}
	if run.Status == domain.ReconciliationFail {
		o.logger.Error("reconciliation mismatch", append(fields, zap.String("severity", "critical"))...)
	} else {
		o.logger.Info("reconciliation passed", fields...)
	}
	return run, nil
}

func (o *Orchestrator) ReconciliationHistory(ctx context.Context, actor domain.Actor, provider string) ([]domain.ReconciliationRun, error) {
	if err := Authorize(actor, CapReconcile); err != nil {
		return nil, err
	}
	return o.store.ListReconciliationRuns(ctx, provider)
}

func (o *Orchestrator) GetTransaction(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Transaction, error) {
	t, err := o.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, mapTxErr(err)
	}
	if err := authorizeAccount(actor, t.AccountID); err != nil {
		return nil, err
	}
	return t, nil
}

func (o *Orchestrator) GetAccount(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Account, error) {
	if err := authorizeAccount(actor, id); err != nil {
		return nil, err
	}
	acc, err := o.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	return acc, err
}

func (o *Orchestrator) ListEntries(ctx context.Context, actor domain.Actor, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := o.GetAccount(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return o.store.ListEntries(ctx, accountID)
}

// AuditTrail returns the audit entries for a transaction, or for an account's
// freeze history when given an account ID.
func (o *Orchestrator) AuditTrail(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]domain.AuditLogEntry, error) {
	if err := Authorize(actor, CapViewAudit); err != nil {
		return nil, err
	}
	return o.store.ListAudit(ctx, id)
}

// VerifyAccount checks the cached balance of one account against its journal.
func (o *Orchestrator) VerifyAccount(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := Authorize(actor, CapVerifyLedger); err != nil {
		return err
	}
	return o.ledger.VerifyConsistency(ctx, id)
}

// VerifyLedger checks every account.
func (o *Orchestrator) VerifyLedger(ctx context.Context) error {
	return o.ledger.VerifyAll(ctx)
}
