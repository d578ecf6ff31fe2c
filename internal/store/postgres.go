package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect parses connString, opens a pool and pings it.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// WithTx runs fn in a READ COMMITTED transaction. Balance safety comes from the
// row locks taken by LockAccount and LockTransaction, not from the isolation level.
func (s *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

const accountColumns = "id, currency, balance, frozen, COALESCE(freeze_reason, ''), created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Currency, &a.Balance, &a.Frozen, &a.FreezeReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

const transactionColumns = `id, account_id, recipient, send_amount, send_currency, receive_amount, receive_currency,
	fee, exchange_rate, funding_source, idempotency_key, COALESCE(sending_reason, ''), status,
	COALESCE(payment_reference, ''), COALESCE(payout_reference, ''), chargeback_window_ends_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Recipient, &t.SendAmount, &t.SendCurrency, &t.ReceiveAmount,
		&t.ReceiveCurrency, &t.Fee, &t.ExchangeRate, &t.FundingSource, &t.IdempotencyKey, &t.SendingReason,
		&t.Status, &t.PaymentReference, &t.PayoutReference, &t.ChargebackWindowEndsAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

const entryColumns = "id, transaction_id, account_id, type, amount, currency, sequence, balance_after, COALESCE(source_ref, ''), created_at"

func scanEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Type, &e.Amount, &e.Currency, &e.Sequence,
		&e.BalanceAfter, &e.SourceRef, &e.CreatedAt)
	return e, mapErr(err)
}

const webhookColumns = "id, provider, external_event_id, event_type, payload, processed, processed_at, attempts, COALESCE(last_error, ''), created_at"

func scanWebhook(row pgx.Row) (domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := row.Scan(&e.ID, &e.Provider, &e.ExternalEventID, &e.EventType, &e.Payload, &e.Processed,
		&e.ProcessedAt, &e.Attempts, &e.LastError, &e.CreatedAt)
	return e, mapErr(err)
}

const disputeColumns = `id, transaction_id, status, COALESCE(reason, ''), COALESCE(outcome, ''), opened_by,
	COALESCE(resolved_by, ''), created_at, resolved_at`

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var d domain.Dispute
	err := row.Scan(&d.ID, &d.TransactionID, &d.Status, &d.Reason, &d.Outcome, &d.OpenedBy, &d.ResolvedBy,
		&d.CreatedAt, &d.ResolvedAt)
	return d, mapErr(err)
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}

func (s *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (s *Postgres) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(r pgx.Row) (uuid.UUID, error) {
		var id uuid.UUID
		return id, r.Scan(&id)
	})
}

func (s *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(s.pool.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
}

func (s *Postgres) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return scanTransaction(s.pool.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = $1", key))
}

func (s *Postgres) ListTransactionsByStatus(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3",
		status, updatedBefore, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(r pgx.Row) (domain.Transaction, error) {
		t, err := scanTransaction(r)
		if err != nil {
			return domain.Transaction{}, err
		}
		return *t, nil
	})
}

func (s *Postgres) ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	return listEntries(ctx, s.pool, accountID)
}

func listEntries(ctx context.Context, q querier, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := q.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 ORDER BY sequence", accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEntry)
}

func (s *Postgres) SumEntries(ctx context.Context, currency string, typ domain.EntryType, start, end time.Time) (decimal.Decimal, int, error) {
	var sum decimal.Decimal
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM ledger_entries
		 WHERE currency = $1 AND type = $2 AND created_at BETWEEN $3 AND $4`,
		currency, typ, start, end).Scan(&sum, &n)
	return sum, n, mapErr(err)
}

func (s *Postgres) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, transaction_id, from_status, to_status, event, actor_kind, actor_id, actor_role,
		        COALESCE(reason, ''), COALESCE(ip, ''), created_at
		 FROM audit_log WHERE transaction_id = $1 ORDER BY created_at, id`, transactionID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(r pgx.Row) (domain.AuditLogEntry, error) {
		var a domain.AuditLogEntry
		var role int
		err := r.Scan(&a.ID, &a.TransactionID, &a.FromStatus, &a.ToStatus, &a.Event, &a.Actor.Kind,
			&a.Actor.ID, &role, &a.Reason, &a.IP, &a.CreatedAt)
		a.Actor.Role = domain.Role(role)
		return a, err
	})
}

func (s *Postgres) GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*domain.WebhookEvent, error) {
	e, err := scanWebhook(s.pool.QueryRow(ctx,
		"SELECT "+webhookColumns+" FROM webhook_events WHERE provider = $1 AND external_event_id = $2",
		provider, externalEventID))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Postgres) ListRetryableWebhooks(ctx context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+webhookColumns+` FROM webhook_events
		 WHERE NOT processed AND attempts < $1 AND created_at < $2 ORDER BY created_at LIMIT $3`,
		maxAttempts, createdBefore, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanWebhook)
}

func (s *Postgres) ListDeadLetterWebhooks(ctx context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+webhookColumns+` FROM webhook_events
		 WHERE NOT processed AND attempts >= $1 ORDER BY created_at LIMIT $2`,
		maxAttempts, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanWebhook)
}

func (s *Postgres) ListReconciliationRuns(ctx context.Context, provider string) ([]domain.ReconciliationRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, currency, window_start, window_end, ledger_total, provider_total, delta,
		        total_records, status, actor_id, created_at
		 FROM reconciliation_runs WHERE provider = $1 ORDER BY created_at DESC`, provider)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(r pgx.Row) (domain.ReconciliationRun, error) {
		var run domain.ReconciliationRun
		err := r.Scan(&run.ID, &run.Provider, &run.Currency, &run.WindowStart, &run.WindowEnd, &run.LedgerTotal,
			&run.ProviderTotal, &run.Delta, &run.TotalRecords, &run.Status, &run.ActorID, &run.CreatedAt)
		return run, err
	})
}

func (s *Postgres) GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d, err := scanDispute(s.pool.QueryRow(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Postgres) ListOpenDisputes(ctx context.Context) ([]domain.Dispute, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+disputeColumns+" FROM disputes WHERE status IN ('RECEIVED', 'OPEN') ORDER BY created_at")
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanDispute)
}

type pgTx struct {
	q querier
}

func (t *pgTx) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO accounts (id, currency, balance, frozen, freeze_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		a.ID, a.Currency, a.Balance, a.Frozen, a.FreezeReason, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(t.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error {
	tag, err := t.q.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3", balance, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetAccountFrozen(ctx context.Context, id uuid.UUID, frozen bool, reason string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		"UPDATE accounts SET frozen = $1, freeze_reason = NULLIF($2, ''), updated_at = $3 WHERE id = $4",
		frozen, reason, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LastSequence(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var last int64
	err := t.q.QueryRow(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries WHERE account_id = $1", accountID).Scan(&last)
	return last, mapErr(err)
}

func (t *pgTx) ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	return listEntries(ctx, t.q, accountID)
}

func (t *pgTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, transaction_id, account_id, type, amount, currency, sequence, balance_after, source_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		e.ID, e.TransactionID, e.AccountID, e.Type, e.Amount, e.Currency, e.Sequence, e.BalanceAfter, e.SourceRef, e.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) HasEntry(ctx context.Context, transactionID, accountID uuid.UUID, typ domain.EntryType) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE transaction_id = $1 AND account_id = $2 AND type = $3)",
		transactionID, accountID, typ).Scan(&exists)
	return exists, mapErr(err)
}

func (t *pgTx) SumDebitsSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.q.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1 AND type = 'DEBIT' AND created_at >= $2",
		accountID, since).Scan(&sum)
	return sum, mapErr(err)
}

func (t *pgTx) RecipientsSince(ctx context.Context, accountID uuid.UUID, since time.Time) ([]string, error) {
	rows, err := t.q.Query(ctx,
		"SELECT DISTINCT recipient FROM transactions WHERE account_id = $1 AND created_at >= $2 ORDER BY recipient",
		accountID, since)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(r pgx.Row) (string, error) {
		var s string
		return s, r.Scan(&s)
	})
}

func (t *pgTx) SumSendAmountsSince(ctx context.Context, currency string, since time.Time, statuses []domain.Status) (decimal.Decimal, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	var sum decimal.Decimal
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(send_amount), 0) FROM transactions
		 WHERE send_currency = $1 AND created_at >= $2 AND status = ANY($3)`,
		currency, since, names).Scan(&sum)
	return sum, mapErr(err)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO transactions (id, account_id, recipient, send_amount, send_currency, receive_amount, receive_currency,
		    fee, exchange_rate, funding_source, idempotency_key, sending_reason, status, payment_reference,
		    payout_reference, chargeback_window_ends_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''), NULLIF($15, ''), $16, $17, $18)`,
		tr.ID, tr.AccountID, tr.Recipient, tr.SendAmount, tr.SendCurrency, tr.ReceiveAmount, tr.ReceiveCurrency,
		tr.Fee, tr.ExchangeRate, tr.FundingSource, tr.IdempotencyKey, tr.SendingReason, tr.Status, tr.PaymentReference,
		tr.PayoutReference, tr.ChargebackWindowEndsAt, tr.CreatedAt, tr.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(t.q.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr *domain.Transaction) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE transactions SET status = $1, payment_reference = NULLIF($2, ''), payout_reference = NULLIF($3, ''),
		    chargeback_window_ends_at = $4, updated_at = $5
		 WHERE id = $6`,
		tr.Status, tr.PaymentReference, tr.PayoutReference, tr.ChargebackWindowEndsAt, tr.UpdatedAt, tr.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertAudit(ctx context.Context, a *domain.AuditLogEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO audit_log (id, transaction_id, from_status, to_status, event, actor_kind, actor_id, actor_role, reason, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)`,
		a.ID, a.TransactionID, a.FromStatus, a.ToStatus, a.Event, a.Actor.Kind, a.Actor.ID, int(a.Actor.Role),
		a.Reason, a.IP, a.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertWebhookEvent(ctx context.Context, e *domain.WebhookEvent) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO webhook_events (id, provider, external_event_id, event_type, payload, processed, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, 0, $6)`,
		e.ID, e.Provider, e.ExternalEventID, e.EventType, e.Payload, e.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) MarkWebhookProcessed(ctx context.Context, provider, externalEventID string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE webhook_events SET processed = true, processed_at = $1, last_error = NULL
		 WHERE provider = $2 AND external_event_id = $3`,
		at, provider, externalEventID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) RecordWebhookFailure(ctx context.Context, provider, externalEventID, msg string) (int, error) {
	var attempts int
	err := t.q.QueryRow(ctx,
		`UPDATE webhook_events SET attempts = attempts + 1, last_error = $1
		 WHERE provider = $2 AND external_event_id = $3 RETURNING attempts`,
		msg, provider, externalEventID).Scan(&attempts)
	return attempts, mapErr(err)
}

func (t *pgTx) InsertReconciliationRun(ctx context.Context, r *domain.ReconciliationRun) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO reconciliation_runs (id, provider, currency, window_start, window_end, ledger_total, provider_total,
		    delta, total_records, status, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Provider, r.Currency, r.WindowStart, r.WindowEnd, r.LedgerTotal, r.ProviderTotal, r.Delta,
		r.TotalRecords, r.Status, r.ActorID, r.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertDispute(ctx context.Context, d *domain.Dispute) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO disputes (id, transaction_id, status, reason, opened_by, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		d.ID, d.TransactionID, d.Status, d.Reason, d.OpenedBy, d.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) LockDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d, err := scanDispute(t.q.QueryRow(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE disputes SET status = $1, outcome = NULLIF($2, ''), resolved_by = NULLIF($3, ''), resolved_at = $4
		 WHERE id = $5`,
		d.Status, d.Outcome, d.ResolvedBy, d.ResolvedAt, d.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)
