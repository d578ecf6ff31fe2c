package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/store"
	"go.uber.org/zap"
)

// OpenDispute records a challenge against a delivered card-funded transfer.
// The transfer must still be inside its chargeback window.
func (o *Orchestrator) OpenDispute(ctx context.Context, transactionID uuid.UUID, req AdminRequest) (*domain.Dispute, error) {
	if err := Authorize(req.Actor, CapOpenDispute); err != nil {
		return nil, err
	}
	return o.openDispute(ctx, transactionID, domain.DisputeOpen, req)
}

// disputeReported opens a dispute announced by the payment provider. A
// transaction that is already disputed is left as it is.
func (o *Orchestrator) disputeReported(ctx context.Context, transactionID uuid.UUID, reason string) error {
	_, err := o.openDispute(ctx, transactionID, domain.DisputeReceived, AdminRequest{Actor: domain.System, Reason: reason})
	if errors.Is(err, domain.ErrDisputeExists) {
		return nil
	}
	return err
}

func (o *Orchestrator) openDispute(ctx context.Context, transactionID uuid.UUID, status domain.DisputeStatus, req AdminRequest) (*domain.Dispute, error) {
	var d *domain.Dispute
	err := o.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, transactionID)
		if err != nil {
			return mapTxErr(err)
		}
		if err := o.chargeable(t); err != nil {
			return err
		}
		d = &domain.Dispute{
			ID:            uuid.New(),
			TransactionID: t.ID,
			Status:        status,
			Reason:        req.Reason,
			OpenedBy:      req.Actor.ID,
			CreatedAt:     o.clock.Now(),
		}
		if err := tx.InsertDispute(ctx, d); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: transaction %s", domain.ErrDisputeExists, t.ID)
			}
			return fmt.Errorf("insert dispute: %w", err)
		}
		return tx.InsertAudit(ctx, o.audit(t.ID, t.Status, t.Status, domain.EventDisputeOpened, req.Actor, req.Reason, req.IP))
	})
	if err != nil {
		return nil, err
	}
	o.logger.Warn("dispute opened",
		zap.String("dispute_id", d.ID.String()),
		zap.String("transaction_id", transactionID.String()),
		zap.String("status", string(status)),
		zap.String("actor", req.Actor.String()),
	)
	return d, nil
}

// OpenDisputes lists disputes that have no outcome yet.
func (o *Orchestrator) OpenDisputes(ctx context.Context, actor domain.Actor) ([]domain.Dispute, error) {
	if err := Authorize(actor, CapViewDisputes); err != nil {
		return nil, err
	}
	return o.store.ListOpenDisputes(ctx)
}

// ResolveDispute closes a dispute as WON or LOST. A lost dispute books the
// chargeback against the sender's wallet in the same unit of work, even if
// the window has closed since the dispute was opened.
func (o *Orchestrator) ResolveDispute(ctx context.Context, id uuid.UUID, outcome domain.DisputeStatus, req AdminRequest) (*domain.Dispute, error) {
	if err := Authorize(req.Actor, CapResolveDispute); err != nil {
		return nil, err
	}
	if !outcome.IsResolved() {
		return nil, fmt.Errorf("%w: outcome must be %s or %s", domain.ErrInvalidRequest, domain.DisputeWon, domain.DisputeLost)
	}
	found, err := o.store.GetDispute(ctx, id)
	if err != nil {
		return nil, mapDisputeErr(err)
	}

	var out *domain.Dispute
	err = o.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, found.TransactionID)
		if err != nil {
			return mapTxErr(err)
		}
		d, err := tx.LockDispute(ctx, id)
		if err != nil {
			return mapDisputeErr(err)
		}
		if d.Status.IsResolved() {
			return fmt.Errorf("%w: dispute already resolved as %s", domain.ErrInvalidRequest, d.Status)
		}
		if outcome == domain.DisputeLost {
			if _, err := o.bookChargeback(ctx, tx, t, req); err != nil {
				return err
			}
		}
		now := o.clock.Now()
		d.Status = outcome
		d.Outcome = req.Reason
		d.ResolvedBy = req.Actor.ID
		d.ResolvedAt = &now
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		out = d
		return tx.InsertAudit(ctx, o.audit(t.ID, t.Status, t.Status, domain.EventDisputeResolved, req.Actor, req.Reason, req.IP))
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("dispute resolved",
		zap.String("dispute_id", id.String()),
		zap.String("transaction_id", out.TransactionID.String()),
		zap.String("outcome", string(outcome)),
		zap.String("actor", req.Actor.String()),
	)
	return out, nil
}

func mapDisputeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrDisputeNotFound
	}
	return err
}
