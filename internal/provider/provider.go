package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the synchronous answer of a provider call. PENDING means the final
// outcome arrives later through a webhook.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

type PaymentRequest struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Customer      string
}

type PaymentResult struct {
	Status            Status
	ProviderReference string
	ClientSecret      string
	Error             string
}

type PayoutRequest struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Recipient     string
	// FundingAmount is the wallet debit this payout draws on, in FundingCurrency.
	// Zero for card-funded sends.
	FundingAmount   decimal.Decimal
	FundingCurrency string
}

type PayoutResult struct {
	Status            Status
	ProviderReference string
	Error             string
}

// PaymentAdapter collects money from the sender.
type PaymentAdapter interface {
	Name() string
	InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// PayoutAdapter delivers money to the recipient.
type PayoutAdapter interface {
	Name() string
	InitiatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

// Reporter exposes the provider's own settlement totals for reconciliation.
type Reporter interface {
	Totals(ctx context.Context, currency string, start, end time.Time) (decimal.Decimal, error)
}
