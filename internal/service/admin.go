package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdminRequest carries who asked for an administrative action and why.
type AdminRequest struct {
	Actor  domain.Actor
	Reason string
	IP     string
}

// Cancel stops a transaction before money has been captured and releases any
// wallet debit in the same unit of work.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Transaction, error) {
	if err := Authorize(req.Actor, CapCancel); err != nil {
		return nil, err
	}
	t, _, err := o.transition(ctx, id, change{
		event:  domain.EventCancelRequested,
		from:   []domain.Status{domain.StatusCreated, domain.StatusPendingPayment},
		actor:  req.Actor,
		reason: req.Reason,
		ip:     req.IP,
		mutate: o.releaseDebit,
	})
	return t, err
}

// Refund returns the sender's money after a failed payout.
func (o *Orchestrator) Refund(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Transaction, error) {
	if err := Authorize(req.Actor, CapRefund); err != nil {
		return nil, err
	}
	t, _, err := o.transition(ctx, id, change{
		event:  domain.EventRefundRequested,
		from:   []domain.Status{domain.StatusPayoutFailed},
		actor:  req.Actor,
		reason: req.Reason,
		ip:     req.IP,
		mutate: o.releaseDebit,
	})
	if err != nil {
		return nil, err
	}
	if t.FundingSource == domain.FundingExternal {
		o.logger.Warn("refund of externally funded transfer must be returned through the payment provider",
			zap.String("transaction_id", id.String()),
			zap.String("payment_reference", t.PaymentReference),
		)
	}
	return t, nil
}

// Retry starts a new payout attempt after a failure. A transaction that never
// attempted a payout is not retryable.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Transaction, error) {
	if err := Authorize(req.Actor, CapRetry); err != nil {
		return nil, err
	}
	return o.initiatePayout(ctx, id, req.Actor, req.Reason, []domain.Status{domain.StatusPayoutFailed})
}

// TriggerCompensation parks a payout whose outcome is unknown for manual
// handling. No ledger entry is written.
func (o *Orchestrator) TriggerCompensation(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Transaction, error) {
	if err := Authorize(req.Actor, CapCompensate); err != nil {
		return nil, err
	}
	t, _, err := o.transition(ctx, id, change{
		event: domain.EventCompensationTriggered,
		from: []domain.Status{
			domain.StatusPayoutInitiated,
			domain.StatusPayoutProcessing,
			domain.StatusPayoutFailed,
		},
		actor:  req.Actor,
		reason: req.Reason,
		ip:     req.IP,
	})
	return t, err
}

// RecordChargeback books a sender-side reversal against a delivered card-funded
// transfer. It is only accepted while the chargeback window is open and at
// most once. Wallet-funded transfers were already debited and cannot be
// charged back.
func (o *Orchestrator) RecordChargeback(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Transaction, error) {
	if err := Authorize(req.Actor, CapChargeback); err != nil {
		return nil, err
	}
	var out *domain.Transaction
	err := o.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return mapTxErr(err)
		}
		if err := o.chargeable(t); err != nil {
			return err
		}
		booked, err := o.bookChargeback(ctx, tx, t, req)
		if err != nil {
			return err
		}
		if !booked {
			return fmt.Errorf("%w: chargeback already recorded", domain.ErrInvalidRequest)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Warn("chargeback recorded",
		zap.String("transaction_id", id.String()),
		zap.String("amount", out.TotalDebit().String()),
		zap.String("actor", req.Actor.String()),
	)
	return out, nil
}

// chargeable checks that t is a delivered card-funded transfer inside its
// chargeback window.
func (o *Orchestrator) chargeable(t *domain.Transaction) error {
	if t.Status != domain.StatusPayoutSuccess {
		return fmt.Errorf("%w: chargeback needs %s, transaction is %s",
			domain.ErrInvalidStateTransition, domain.StatusPayoutSuccess, t.Status)
	}
	if t.FundingSource != domain.FundingExternal {
		return fmt.Errorf("%w: %s-funded transfers cannot be charged back", domain.ErrInvalidRequest, t.FundingSource)
	}
	if t.ChargebackWindowEndsAt == nil || o.clock.Now().After(*t.ChargebackWindowEndsAt) {
		return domain.ErrChargebackWindowClosed
	}
	return nil
}

// bookChargeback claws the transfer's total back from the sender's wallet and
// audits it. It reports false without writing anything when the chargeback
// is already on the ledger.
func (o *Orchestrator) bookChargeback(ctx context.Context, tx store.Tx, t *domain.Transaction, req AdminRequest) (bool, error) {
	done, err := tx.HasEntry(ctx, t.ID, t.AccountID, domain.EntryChargeback)
	if err != nil || done {
		return false, err
	}
	if _, err := o.ledger.RecordEntry(ctx, tx, ledger.ForTransaction(t.ID, t.AccountID, domain.EntryChargeback, t.TotalDebit(), t.SendCurrency)); err != nil {
		return false, err
	}
	if err := tx.InsertAudit(ctx, o.audit(t.ID, t.Status, t.Status, domain.EventChargebackRecorded, req.Actor, req.Reason, req.IP)); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) FreezeAccount(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Account, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: a freeze reason is required", domain.ErrInvalidRequest)
	}
	return o.setFrozen(ctx, id, true, req)
}

func (o *Orchestrator) UnfreezeAccount(ctx context.Context, id uuid.UUID, req AdminRequest) (*domain.Account, error) {
	return o.setFrozen(ctx, id, false, req)
}

func (o *Orchestrator) setFrozen(ctx context.Context, id uuid.UUID, frozen bool, req AdminRequest) (*domain.Account, error) {
	if err := Authorize(req.Actor, CapFreeze); err != nil {
		return nil, err
	}
	event := domain.EventAccountUnfrozen
	if frozen {
		event = domain.EventAccountFrozen
	}
	var out *domain.Account
	err := o.store.WithTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		now := o.clock.Now()
		reason := req.Reason
		if !frozen {
			reason = ""
		}
		if err := tx.SetAccountFrozen(ctx, id, frozen, reason, now); err != nil {
			return err
		}
		acc.Frozen, acc.FreezeReason, acc.UpdatedAt = frozen, reason, now
		out = acc
		return tx.InsertAudit(ctx, o.audit(id, "", "", event, req.Actor, req.Reason, req.IP))
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("account freeze changed",
		zap.String("account_id", id.String()),
		zap.Bool("frozen", frozen),
		zap.String("actor", req.Actor.String()),
	)
	return out, nil
}

// OpenAccount creates an empty wallet.
func (o *Orchestrator) OpenAccount(ctx context.Context, actor domain.Actor, currency string) (*domain.Account, error) {
	if err := Authorize(actor, CapFund); err != nil {
		return nil, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = o.policy.BaseCurrency
	}
	now := o.clock.Now()
	acc := &domain.Account{ID: uuid.New(), Currency: currency, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if err := o.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAccount(ctx, acc)
	}); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	o.logger.Info("account opened", zap.String("account_id", acc.ID.String()), zap.String("currency", currency))
	return acc, nil
}

// FundAccount tops up a wallet with a CREDIT_PAYOUT entry that belongs to no
// transaction. ref identifies the external top-up.
func (o *Orchestrator) FundAccount(ctx context.Context, actor domain.Actor, id uuid.UUID, amount decimal.Decimal, currency, ref string) (*domain.LedgerEntry, error) {
	if err := Authorize(actor, CapFund); err != nil {
		return nil, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = o.policy.BaseCurrency
	}
	entry, err := o.ledger.Record(ctx, ledger.EntryRequest{
		AccountID: id,
		Type:      domain.EntryCreditPayout,
		Amount:    amount,
		Currency:  currency,
		SourceRef: ref,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("account funded",
		zap.String("account_id", id.String()),
		zap.String("amount", amount.String()),
		zap.String("actor", actor.String()),
	)
	return entry, nil
}
