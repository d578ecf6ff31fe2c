package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is a uniqueness violation or a serialization failure.
	ErrConflict = errors.New("conflict")
)

// Store is the persistence boundary. Writes only happen inside WithTx; an error
// returned from fn rolls back every write made through its Tx.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int) ([]domain.Transaction, error)
	// ListEntries returns an account's entries in sequence order.
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
	SumEntries(ctx context.Context, currency string, typ domain.EntryType, start, end time.Time) (decimal.Decimal, int, error)
	ListAudit(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditLogEntry, error)
	GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*domain.WebhookEvent, error)
	ListRetryableWebhooks(ctx context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.WebhookEvent, error)
	ListDeadLetterWebhooks(ctx context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error)
	ListReconciliationRuns(ctx context.Context, provider string) ([]domain.ReconciliationRun, error)
	GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	// ListOpenDisputes returns RECEIVED and OPEN disputes, oldest first.
	ListOpenDisputes(ctx context.Context) ([]domain.Dispute, error)
}

// Tx is one atomic unit of work.
type Tx interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	// LockAccount reads the account and holds a row lock until the unit of work ends.
	LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error
	SetAccountFrozen(ctx context.Context, id uuid.UUID, frozen bool, reason string, at time.Time) error

	LastSequence(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
	// InsertEntry fails with ErrConflict on a duplicate (account, sequence) or
	// (transaction, account, type).
	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	HasEntry(ctx context.Context, transactionID, accountID uuid.UUID, typ domain.EntryType) (bool, error)
	SumDebitsSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)
	// RecipientsSince returns the distinct recipients of the account's
	// transactions created at or after since.
	RecipientsSince(ctx context.Context, accountID uuid.UUID, since time.Time) ([]string, error)
	// SumSendAmountsSince totals SendAmount across all accounts for
	// transactions in currency created at or after since whose status is listed.
	SumSendAmountsSince(ctx context.Context, currency string, since time.Time, statuses []domain.Status) (decimal.Decimal, error)

	// InsertTransaction fails with ErrConflict when the idempotency key is taken.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// UpdateTransaction persists status, provider references and the chargeback
	// window. The creation snapshot is never written.
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
	InsertAudit(ctx context.Context, a *domain.AuditLogEntry) error

	// InsertWebhookEvent fails with ErrConflict when (provider, external id) exists.
	InsertWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, provider, externalEventID string, at time.Time) error
	RecordWebhookFailure(ctx context.Context, provider, externalEventID, msg string) (int, error)

	InsertReconciliationRun(ctx context.Context, r *domain.ReconciliationRun) error

	// InsertDispute fails with ErrConflict when the transaction already has one.
	InsertDispute(ctx context.Context, d *domain.Dispute) error
	LockDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	// UpdateDispute persists status, outcome and resolution fields.
	UpdateDispute(ctx context.Context, d *domain.Dispute) error
}
