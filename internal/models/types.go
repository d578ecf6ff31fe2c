package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/shopspring/decimal"
)

// CreateTransactionRequest is the payload from the client. The idempotency
// key travels in the Idempotency-Key header.
type CreateTransactionRequest struct {
	AccountID       uuid.UUID            `json:"account_id"`
	Recipient       string               `json:"recipient"`
	Amount          decimal.Decimal      `json:"amount"`
	Currency        string               `json:"currency,omitempty"`
	ReceiveCurrency string               `json:"receive_currency,omitempty"`
	FundingSource   domain.FundingSource `json:"funding_source"`
	SendingReason   string               `json:"sending_reason,omitempty"`
}

// TransactionResponse is the canonical response for a created or replayed send.
type TransactionResponse struct {
	Transaction  *domain.Transaction `json:"transaction"`
	ClientSecret string              `json:"client_secret,omitempty"`
	Replayed     bool                `json:"replayed"`
}

type ResolveDisputeRequest struct {
	Outcome domain.DisputeStatus `json:"outcome"`
	Reason  string               `json:"reason"`
}

type AdminActionRequest struct {
	Reason string `json:"reason"`
}

type OpenAccountRequest struct {
	Currency string `json:"currency"`
}

type FundAccountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Reference string          `json:"reference"`
}

type ReconcileRequest struct {
	Provider    string    `json:"provider"`
	Currency    string    `json:"currency"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// VerifyResponse reports whether an account's cached balance matches its journal.
type VerifyResponse struct {
	AccountID  uuid.UUID `json:"account_id"`
	Consistent bool      `json:"consistent"`
	Detail     string    `json:"detail,omitempty"`
}

type WebhookAck struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error       string              `json:"error"`
	Code        string              `json:"code"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}
