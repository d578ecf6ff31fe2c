package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrDuplicateWebhookEvent   = errors.New("webhook event already processed")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrProviderCommunication   = errors.New("provider communication error")
	ErrComplianceRejected      = errors.New("compliance rejected")
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrAccountFrozen           = errors.New("account frozen")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrForbidden               = errors.New("forbidden")
	ErrLedgerDrift             = errors.New("ledger drift detected")
	ErrDailyLimitExceeded      = errors.New("daily send limit exceeded")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrChargebackWindowClosed  = errors.New("chargeback window closed")
	ErrRecipientLimitExceeded  = errors.New("daily recipient limit exceeded")
	ErrGlobalDailyCapReached   = errors.New("global daily cap reached")
	ErrDisputeNotFound         = errors.New("dispute not found")
	ErrDisputeExists           = errors.New("transaction already disputed")
)

// TransitionError is returned for any (status, event) pair outside the lifecycle table.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot go from %s via %s", e.From, e.Event)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// DriftError reports a cached balance that disagrees with the ledger sum.
type DriftError struct {
	AccountID uuid.UUID
	Cached    decimal.Decimal
	Real      decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("ledger drift on account %s: cached %s, ledger %s", e.AccountID, e.Cached, e.Real)
}

func (e *DriftError) Unwrap() error { return ErrLedgerDrift }

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidStateTransition, "INVALID_STATE_TRANSITION"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrCurrencyMismatch, "CURRENCY_MISMATCH"},
	{ErrDuplicateWebhookEvent, "DUPLICATE_WEBHOOK_EVENT"},
	{ErrDuplicateIdempotencyKey, "DUPLICATE_IDEMPOTENCY_KEY"},
	{ErrProviderCommunication, "PROVIDER_COMMUNICATION_ERROR"},
	{ErrComplianceRejected, "COMPLIANCE_REJECTED"},
	{ErrAccountNotFound, "ACCOUNT_NOT_FOUND"},
	{ErrTransactionNotFound, "TRANSACTION_NOT_FOUND"},
	{ErrAccountFrozen, "ACCOUNT_FROZEN"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidRequest, "INVALID_REQUEST"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrLedgerDrift, "LEDGER_DRIFT"},
	{ErrDailyLimitExceeded, "DAILY_LIMIT_EXCEEDED"},
	{ErrInvalidSignature, "INVALID_SIGNATURE"},
	{ErrChargebackWindowClosed, "CHARGEBACK_WINDOW_CLOSED"},
	{ErrRecipientLimitExceeded, "RECIPIENT_LIMIT_EXCEEDED"},
	{ErrGlobalDailyCapReached, "GLOBAL_DAILY_CAP_REACHED"},
	{ErrDisputeNotFound, "DISPUTE_NOT_FOUND"},
	{ErrDisputeExists, "DISPUTE_EXISTS"},
}

// Code maps an error to its stable public code. Unknown errors are INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
