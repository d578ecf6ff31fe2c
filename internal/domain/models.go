package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingSource says where the sender's money comes from.
type FundingSource string

const (
	FundingWallet   FundingSource = "WALLET"
	FundingExternal FundingSource = "EXTERNAL"
)

// IsValid reports whether f is WALLET or EXTERNAL.
func (f FundingSource) IsValid() bool {
	return f == FundingWallet || f == FundingExternal
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDebit        EntryType = "DEBIT"
	EntryCreditPayout EntryType = "CREDIT_PAYOUT"
	EntryCreditRefund EntryType = "CREDIT_REFUND"
	EntryChargeback   EntryType = "CHARGEBACK"
)

// IsValid reports whether t is one of the four entry types.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryDebit, EntryCreditPayout, EntryCreditRefund, EntryChargeback:
		return true
	}
	return false
}

// Outflow reports whether the entry reduces the account balance.
func (t EntryType) Outflow() bool {
	return t == EntryDebit || t == EntryChargeback
}

// Account is a sender wallet. Balance is a cache of the signed sum of its ledger entries.
type Account struct {
	ID           uuid.UUID       `json:"id"`
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Frozen       bool            `json:"frozen"`
	FreezeReason string          `json:"freeze_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MaxIdempotencyKeyLength matches the idempotency_key column width.
const MaxIdempotencyKeyLength = 255

// Transaction is one send request moving through the lifecycle.
// SendAmount, Fee, ExchangeRate and ReceiveAmount are fixed at creation.
type Transaction struct {
	ID                     uuid.UUID       `json:"id"`
	AccountID              uuid.UUID       `json:"account_id"`
	Recipient              string          `json:"recipient"`
	SendAmount             decimal.Decimal `json:"send_amount"`
	SendCurrency           string          `json:"send_currency"`
	ReceiveAmount          decimal.Decimal `json:"receive_amount"`
	ReceiveCurrency        string          `json:"receive_currency"`
	Fee                    decimal.Decimal `json:"fee"`
	ExchangeRate           decimal.Decimal `json:"exchange_rate"`
	FundingSource          FundingSource   `json:"funding_source"`
	IdempotencyKey         *string         `json:"idempotency_key,omitempty"`
	SendingReason          string          `json:"sending_reason,omitempty"`
	Status                 Status          `json:"status"`
	PaymentReference       string          `json:"payment_reference,omitempty"`
	PayoutReference        string          `json:"payout_reference,omitempty"`
	ChargebackWindowEndsAt *time.Time      `json:"chargeback_window_ends_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TotalDebit is what a wallet-funded send takes from the sender.
func (t *Transaction) TotalDebit() decimal.Decimal {
	return t.SendAmount.Add(t.Fee)
}

// IsTerminal reports whether the transaction can no longer change status.
func (t *Transaction) IsTerminal() bool {
	return IsTerminal(t.Status)
}

// LedgerEntry is one immutable journal line. Amount is always positive; the
// sign comes from Type.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.NullUUID   `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Sequence      int64           `json:"sequence"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	SourceRef     string          `json:"source_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SignedAmount is Amount negated for outflows.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Type.Outflow() {
		return e.Amount.Neg()
	}
	return e.Amount
}

// WebhookEvent records one inbound provider callback. (Provider, ExternalEventID)
// is unique in storage.
type WebhookEvent struct {
	ID              uuid.UUID       `json:"id"`
	Provider        string          `json:"provider"`
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AuditLogEntry is written in the same unit of work as every status change.
type AuditLogEntry struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	FromStatus    Status    `json:"from_status"`
	ToStatus      Status    `json:"to_status"`
	Event         Event     `json:"event"`
	Actor         Actor     `json:"actor"`
	Reason        string    `json:"reason,omitempty"`
	IP            string    `json:"ip,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReconciliationStatus string

const (
	ReconciliationPass ReconciliationStatus = "PASS"
	ReconciliationFail ReconciliationStatus = "FAIL"
)

// ReconciliationRun compares ledger totals with provider-reported totals for a window.
type ReconciliationRun struct {
	ID            uuid.UUID            `json:"id"`
	Provider      string               `json:"provider"`
	Currency      string               `json:"currency"`
	WindowStart   time.Time            `json:"window_start"`
	WindowEnd     time.Time            `json:"window_end"`
	LedgerTotal   decimal.Decimal      `json:"ledger_total"`
	ProviderTotal decimal.Decimal      `json:"provider_total"`
	Delta         decimal.Decimal      `json:"delta"`
	TotalRecords  int                  `json:"total_records"`
	Status        ReconciliationStatus `json:"status"`
	ActorID       string               `json:"actor_id"`
	CreatedAt     time.Time            `json:"created_at"`
}

type DisputeStatus string

const (
	// DisputeReceived is a dispute reported by the payment provider.
	DisputeReceived DisputeStatus = "RECEIVED"
	// DisputeOpen is a dispute raised by staff.
	DisputeOpen DisputeStatus = "OPEN"
	DisputeWon  DisputeStatus = "WON"
	DisputeLost DisputeStatus = "LOST"
)

// IsResolved reports whether the dispute has an outcome.
func (s DisputeStatus) IsResolved() bool {
	return s == DisputeWon || s == DisputeLost
}

// Dispute is a sender's challenge of a card-funded transfer. A transaction has
// at most one dispute.
type Dispute struct {
	ID            uuid.UUID     `json:"id"`
	TransactionID uuid.UUID     `json:"transaction_id"`
	Status        DisputeStatus `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	Outcome       string        `json:"outcome,omitempty"`
	OpenedBy      string        `json:"opened_by"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}
