package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "INSUFFICIENT_FUNDS", Code(fmt.Errorf("debit: %w", ErrInsufficientFunds)))
	assert.Equal(t, "PROVIDER_COMMUNICATION_ERROR", Code(fmt.Errorf("payout: %w", ErrProviderCommunication)))
	assert.Equal(t, "INTERNAL", Code(errors.New("boom")))
	assert.Equal(t, "RECIPIENT_LIMIT_EXCEEDED", Code(fmt.Errorf("create: %w", ErrRecipientLimitExceeded)))
	assert.Equal(t, "GLOBAL_DAILY_CAP_REACHED", Code(ErrGlobalDailyCapReached))
	assert.Equal(t, "DISPUTE_NOT_FOUND", Code(ErrDisputeNotFound))
	assert.Equal(t, "DISPUTE_EXISTS", Code(ErrDisputeExists))

	drift := &DriftError{AccountID: uuid.New(), Cached: decimal.NewFromInt(10), Real: decimal.NewFromInt(9)}
	assert.ErrorIs(t, drift, ErrLedgerDrift)
	assert.Equal(t, "LEDGER_DRIFT", Code(drift))
}

func TestRoleJSON(t *testing.T) {
	b, err := json.Marshal(Actor{Kind: ActorAdmin, ID: "a1", Role: RoleOps})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"ADMIN","id":"a1","role":"OPS"}`, string(b))

	var a Actor
	require.NoError(t, json.Unmarshal(b, &a))
	assert.Equal(t, RoleOps, a.Role)

	_, err = ParseRole("janitor")
	assert.Error(t, err)
	assert.True(t, RoleSuperAdmin > RoleAdmin)
}

func TestSignedAmount(t *testing.T) {
	amt := decimal.NewFromInt(5)
	assert.True(t, LedgerEntry{Type: EntryDebit, Amount: amt}.SignedAmount().Equal(amt.Neg()))
	assert.True(t, LedgerEntry{Type: EntryChargeback, Amount: amt}.SignedAmount().Equal(amt.Neg()))
	assert.True(t, LedgerEntry{Type: EntryCreditRefund, Amount: amt}.SignedAmount().Equal(amt))
	assert.True(t, LedgerEntry{Type: EntryCreditPayout, Amount: amt}.SignedAmount().Equal(amt))
}

func TestDisputeStatusResolved(t *testing.T) {
	assert.False(t, DisputeReceived.IsResolved())
	assert.False(t, DisputeOpen.IsResolved())
	assert.True(t, DisputeWon.IsResolved())
	assert.True(t, DisputeLost.IsResolved())
}
