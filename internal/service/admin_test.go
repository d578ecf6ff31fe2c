package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysFail(uuid.UUID) bool { return true }

func TestRefundAfterFailedPayoutRestoresBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true, FailWhen: alwaysFail}})
	acc := h.account(t, 100)

	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingWallet, ""))
	require.NoError(t, err)
	id := res.Transaction.ID
	require.Equal(t, domain.StatusPayoutFailed, res.Transaction.Status)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(48)))

	_, err = h.o.Refund(ctx, id, AdminRequest{Actor: support, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tx, err := h.o.Refund(ctx, id, AdminRequest{Actor: admin, Reason: "recipient unreachable", IP: "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(100)))

	entries, err := h.store.ListEntries(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, []domain.EntryType{domain.EntryCreditPayout, domain.EntryDebit, domain.EntryCreditRefund}, entryTypes(entries))

	trail, err := h.o.AuditTrail(ctx, support, id)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, domain.StatusPayoutFailed, last.FromStatus)
	assert.Equal(t, domain.StatusRefunded, last.ToStatus)
	assert.Equal(t, admin, last.Actor)
	assert.Equal(t, "10.0.0.7", last.IP)

	_, err = h.o.Refund(ctx, id, AdminRequest{Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "refund happens once")

	sent := h.notes.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.StatusRefunded, sent[0].Status)
	require.NoError(t, h.ledger.VerifyConsistency(ctx, acc))
}

func TestRetryAfterFailedPayout(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	firstFails := func(uuid.UUID) bool { return calls.Add(1) == 1 }
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true, FailWhen: firstFails}})
	acc := h.account(t, 100)

	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingWallet, ""))
	require.NoError(t, err)
	id := res.Transaction.ID
	require.Equal(t, domain.StatusPayoutFailed, res.Transaction.Status)

	_, err = h.o.Retry(ctx, id, AdminRequest{Actor: support})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.o.Retry(ctx, id, AdminRequest{Actor: admin, Reason: "second attempt"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPayoutSuccess, h.status(t, id))
	assert.Equal(t, []domain.Status{
		domain.StatusCreated,
		domain.StatusPendingPayment,
		domain.StatusPaymentReceived,
		domain.StatusPayoutInitiated,
		domain.StatusPayoutFailed,
		domain.StatusPayoutInitiated,
		domain.StatusPayoutSuccess,
	}, h.path(t, id))

	// One debit no matter how many payout attempts.
	entries, err := h.store.ListEntries(ctx, acc)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = h.o.Retry(ctx, id, AdminRequest{Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRetryNeedsFailedPayout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true}})
	acc := h.account(t, 0)

	now := h.clock.Now()
	received := &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       acc,
		Recipient:       "+254700000001",
		SendAmount:      decimal.NewFromInt(50),
		SendCurrency:    "GBP",
		ReceiveAmount:   decimal.NewFromInt(8250),
		ReceiveCurrency: "KES",
		Fee:             decimal.NewFromInt(2),
		ExchangeRate:    decimal.NewFromInt(165),
		FundingSource:   domain.FundingExternal,
		Status:          domain.StatusPaymentReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, h.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTransaction(ctx, received)
	}))

	_, err := h.o.Retry(ctx, received.ID, AdminRequest{Actor: admin, Reason: "nudge"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, domain.StatusPaymentReceived, h.status(t, received.ID))
	trail, err := h.store.ListAudit(ctx, received.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)

	// The system still starts the first payout from here.
	tx, err := h.o.InitiatePayout(ctx, received.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPayoutSuccess, tx.Status)
}

func TestCompensationParksUnknownPayout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Delay: time.Hour}})
	acc := h.account(t, 100)
	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingWallet, ""))
	require.NoError(t, err)
	id := res.Transaction.ID

	_, err = h.o.TriggerCompensation(ctx, id, AdminRequest{Actor: admin})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tx, err := h.o.TriggerCompensation(ctx, id, AdminRequest{Actor: ops, Reason: "provider silent"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPayoutCompensationRequired, tx.Status)

	// The late callback cannot move a terminal transaction.
	h.clock.Advance(time.Hour)
	h.drain(t)
	assert.Equal(t, domain.StatusPayoutCompensationRequired, h.status(t, id))
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(48)))
}

func TestCancelWhitelist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payment: provider.Behavior{Delay: time.Hour}})
	acc := h.account(t, 0)

	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingExternal, ""))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingPayment, res.Transaction.Status)

	_, err = h.o.Cancel(ctx, res.Transaction.ID, AdminRequest{Actor: userOf(acc)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tx, err := h.o.Cancel(ctx, res.Transaction.ID, AdminRequest{Actor: support, Reason: "duplicate order"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, tx.Status)

	_, err = h.o.Cancel(ctx, res.Transaction.ID, AdminRequest{Actor: support})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	// Money captured after cancellation does not revive the transaction.
	h.clock.Advance(time.Hour)
	h.drain(t)
	assert.Equal(t, domain.StatusCancelled, h.status(t, res.Transaction.ID))
}

func TestChargebackWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{
		payment: provider.Behavior{Immediate: true},
		payout:  provider.Behavior{Immediate: true},
	})
	acc := h.account(t, 200)

	first, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingExternal, ""))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPayoutSuccess, first.Transaction.Status)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(200)))

	_, err = h.o.RecordChargeback(ctx, first.Transaction.ID, AdminRequest{Actor: admin})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	tx, err := h.o.RecordChargeback(ctx, first.Transaction.ID, AdminRequest{Actor: ops, Reason: "card dispute"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPayoutSuccess, tx.Status)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(148)))

	_, err = h.o.RecordChargeback(ctx, first.Transaction.ID, AdminRequest{Actor: ops})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(148)))

	trail, err := h.o.AuditTrail(ctx, ops, first.Transaction.ID)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, domain.EventChargebackRecorded, last.Event)
	assert.Equal(t, last.FromStatus, last.ToStatus)

	second, err := h.o.CreateTransaction(ctx, h.send(acc, 10, domain.FundingExternal, ""))
	require.NoError(t, err)
	h.clock.Advance(testPolicy().ChargebackWindow + time.Hour)
	_, err = h.o.RecordChargeback(ctx, second.Transaction.ID, AdminRequest{Actor: ops})
	assert.ErrorIs(t, err, domain.ErrChargebackWindowClosed)

	require.NoError(t, h.ledger.VerifyConsistency(ctx, acc))
}

func TestChargebackRejectsWalletFunding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true}})
	acc := h.account(t, 200)

	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingWallet, ""))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPayoutSuccess, res.Transaction.Status)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(148)))

	_, err = h.o.RecordChargeback(ctx, res.Transaction.ID, AdminRequest{Actor: ops, Reason: "card dispute"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	// The sender paid once, through the debit.
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(148)))
	entries, err := h.store.ListEntries(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, []domain.EntryType{domain.EntryCreditPayout, domain.EntryDebit}, entryTypes(entries))

	trail, err := h.o.AuditTrail(ctx, ops, res.Transaction.ID)
	require.NoError(t, err)
	for _, a := range trail {
		assert.NotEqual(t, domain.EventChargebackRecorded, a.Event)
	}
}

func TestChargebackNeedsDeliveredPayout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true, FailWhen: alwaysFail}})
	acc := h.account(t, 100)
	res, err := h.o.CreateTransaction(ctx, h.send(acc, 50, domain.FundingWallet, ""))
	require.NoError(t, err)

	_, err = h.o.RecordChargeback(ctx, res.Transaction.ID, AdminRequest{Actor: ops})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = h.o.RecordChargeback(ctx, uuid.New(), AdminRequest{Actor: ops})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestFreezeBlocksSending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{payout: provider.Behavior{Immediate: true}})
	acc := h.account(t, 100)

	_, err := h.o.FreezeAccount(ctx, acc, AdminRequest{Actor: support, Reason: "kyc"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.o.FreezeAccount(ctx, acc, AdminRequest{Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	frozen, err := h.o.FreezeAccount(ctx, acc, AdminRequest{Actor: admin, Reason: "kyc review"})
	require.NoError(t, err)
	assert.True(t, frozen.Frozen)

	_, err = h.o.CreateTransaction(ctx, h.send(acc, 10, domain.FundingWallet, ""))
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)

	thawed, err := h.o.UnfreezeAccount(ctx, acc, AdminRequest{Actor: admin, Reason: "cleared"})
	require.NoError(t, err)
	assert.False(t, thawed.Frozen)
	assert.Empty(t, thawed.FreezeReason)

	_, err = h.o.CreateTransaction(ctx, h.send(acc, 10, domain.FundingWallet, ""))
	assert.NoError(t, err)

	trail, err := h.o.AuditTrail(ctx, support, acc)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, domain.EventAccountFrozen, trail[0].Event)
	assert.Equal(t, domain.EventAccountUnfrozen, trail[1].Event)
}

func TestFundingRequiresOps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	acc := h.account(t, 0)

	_, err := h.o.FundAccount(ctx, admin, acc, decimal.NewFromInt(10), "GBP", "topup")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.o.FundAccount(ctx, ops, acc, decimal.NewFromInt(10), "KES", "topup")
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	entry, err := h.o.FundAccount(ctx, ops, acc, decimal.NewFromInt(10), "", "topup")
	require.NoError(t, err)
	assert.False(t, entry.TransactionID.Valid)
	assert.Equal(t, "topup", entry.SourceRef)
	assert.True(t, h.balance(t, acc).Equal(decimal.NewFromInt(10)))
}

func TestWebhookFailuresEndInDeadLetters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{attempts: 2})

	body := callback(t, "evt_orphan", webhook.TypePayoutSuccess, uuid.New())
	err := h.o.ProcessWebhook(ctx, provider.KindSandbox, body)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	dead, err := h.o.DeadLetters(ctx, support, 0)
	require.NoError(t, err)
	assert.Empty(t, dead)

	n, err := h.o.RetryWebhooks(ctx, h.clock.Advance(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err = h.o.DeadLetters(ctx, support, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "evt_orphan", dead[0].ExternalEventID)
	assert.Equal(t, 2, dead[0].Attempts)

	_, err = h.o.DeadLetters(ctx, userOf(uuid.New()), 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestWebhookEdgeCases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	err := h.o.ProcessWebhook(ctx, provider.KindSandbox, []byte(`{"type":"payout.success"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	body := callback(t, "evt_unknown", "refund.created", uuid.New())
	require.NoError(t, h.o.ProcessWebhook(ctx, provider.KindSandbox, body))
	ev, err := h.store.GetWebhookEvent(ctx, provider.KindSandbox, "evt_unknown")
	require.NoError(t, err)
	assert.True(t, ev.Processed)
}
