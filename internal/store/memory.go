package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Every unit of work holds one mutex, which makes
// units strictly serializable; a failed unit restores the pre-unit snapshot.
// Uniqueness rules match the Postgres schema.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	idemKeys     map[string]uuid.UUID
	entries      []domain.LedgerEntry
	entryKeys    map[string]struct{}
	audit        []domain.AuditLogEntry
	webhooks     map[string]domain.WebhookEvent
	recon        []domain.ReconciliationRun
	disputes     map[uuid.UUID]domain.Dispute
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		accounts:     make(map[uuid.UUID]domain.Account),
		transactions: make(map[uuid.UUID]domain.Transaction),
		idemKeys:     make(map[string]uuid.UUID),
		entryKeys:    make(map[string]struct{}),
		webhooks:     make(map[string]domain.WebhookEvent),
		disputes:     make(map[uuid.UUID]domain.Dispute),
	}}
}

func (s memState) clone() memState {
	c := memState{
		accounts:     make(map[uuid.UUID]domain.Account, len(s.accounts)),
		transactions: make(map[uuid.UUID]domain.Transaction, len(s.transactions)),
		idemKeys:     make(map[string]uuid.UUID, len(s.idemKeys)),
		entryKeys:    make(map[string]struct{}, len(s.entryKeys)),
		webhooks:     make(map[string]domain.WebhookEvent, len(s.webhooks)),
		disputes:     make(map[uuid.UUID]domain.Dispute, len(s.disputes)),
		// Append-only slices: restoring the header truncates anything added later.
		entries: s.entries[:len(s.entries):len(s.entries)],
		audit:   s.audit[:len(s.audit):len(s.audit)],
		recon:   s.recon[:len(s.recon):len(s.recon)],
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.idemKeys {
		c.idemKeys[k] = v
	}
	for k := range s.entryKeys {
		c.entryKeys[k] = struct{}{}
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	return c
}

func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	committed := false
	defer func() {
		if !committed {
			m.state = snapshot
		}
	}()

	if err := fn(&memTx{s: &m.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.state.accounts))
	for id := range m.state.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *Memory) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) GetTransactionByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.idemKeys[key]
	if !ok {
		return nil, ErrNotFound
	}
	t := m.state.transactions[id]
	return &t, nil
}

func (m *Memory) ListTransactionsByStatus(_ context.Context, status domain.Status, updatedBefore time.Time, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.state.transactions {
		if t.Status == status && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListEntries(_ context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return accountEntries(m.state.entries, accountID), nil
}

func accountEntries(all []domain.LedgerEntry, accountID uuid.UUID) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range all {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *Memory) SumEntries(_ context.Context, currency string, typ domain.EntryType, start, end time.Time) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, n := decimal.Zero, 0
	for _, e := range m.state.entries {
		if e.Currency != currency || e.Type != typ || e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		sum = sum.Add(e.Amount)
		n++
	}
	return sum, n, nil
}

func (m *Memory) ListAudit(_ context.Context, transactionID uuid.UUID) ([]domain.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, a := range m.state.audit {
		if a.TransactionID == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) GetWebhookEvent(_ context.Context, provider, externalEventID string) (*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.webhooks[webhookKey(provider, externalEventID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *Memory) ListRetryableWebhooks(_ context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	return m.listWebhooks(limit, func(e domain.WebhookEvent) bool {
		return !e.Processed && e.Attempts < maxAttempts && e.CreatedAt.Before(createdBefore)
	}), nil
}

func (m *Memory) ListDeadLetterWebhooks(_ context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	return m.listWebhooks(limit, func(e domain.WebhookEvent) bool {
		return !e.Processed && e.Attempts >= maxAttempts
	}), nil
}

func (m *Memory) listWebhooks(limit int, keep func(domain.WebhookEvent) bool) []domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookEvent
	for _, e := range m.state.webhooks {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ListReconciliationRuns(_ context.Context, provider string) ([]domain.ReconciliationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReconciliationRun
	for i := len(m.state.recon) - 1; i >= 0; i-- {
		if m.state.recon[i].Provider == provider {
			out = append(out, m.state.recon[i])
		}
	}
	return out, nil
}

func (m *Memory) GetDispute(_ context.Context, id uuid.UUID) (*domain.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) ListOpenDisputes(_ context.Context) ([]domain.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Dispute
	for _, d := range m.state.disputes {
		if !d.Status.IsResolved() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func webhookKey(provider, id string) string { return provider + "\x00" + id }

func entryKey(txID, accountID uuid.UUID, typ domain.EntryType) string {
	return txID.String() + "/" + accountID.String() + "/" + string(typ)
}

// memTx runs with Memory.mu held.
type memTx struct {
	s *memState
}

func (t *memTx) CreateAccount(_ context.Context, a *domain.Account) error {
	if _, ok := t.s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s", ErrConflict, a.ID)
	}
	t.s.accounts[a.ID] = *a
	return nil
}

func (t *memTx) LockAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error {
	a, ok := t.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("balance check violated for account %s", id)
	}
	a.Balance = balance
	a.UpdatedAt = at
	t.s.accounts[id] = a
	return nil
}

func (t *memTx) SetAccountFrozen(_ context.Context, id uuid.UUID, frozen bool, reason string, at time.Time) error {
	a, ok := t.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Frozen = frozen
	a.FreezeReason = reason
	a.UpdatedAt = at
	t.s.accounts[id] = a
	return nil
}

func (t *memTx) LastSequence(_ context.Context, accountID uuid.UUID) (int64, error) {
	var last int64
	for _, e := range t.s.entries {
		if e.AccountID == accountID && e.Sequence > last {
			last = e.Sequence
		}
	}
	return last, nil
}

func (t *memTx) ListEntries(_ context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	return accountEntries(t.s.entries, accountID), nil
}

func (t *memTx) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	for _, existing := range t.s.entries {
		if existing.AccountID == e.AccountID && existing.Sequence == e.Sequence {
			return fmt.Errorf("%w: sequence %d on account %s", ErrConflict, e.Sequence, e.AccountID)
		}
	}
	if e.TransactionID.Valid {
		key := entryKey(e.TransactionID.UUID, e.AccountID, e.Type)
		if _, ok := t.s.entryKeys[key]; ok {
			return fmt.Errorf("%w: %s entry for transaction %s", ErrConflict, e.Type, e.TransactionID.UUID)
		}
		t.s.entryKeys[key] = struct{}{}
	}
	t.s.entries = append(t.s.entries, *e)
	return nil
}

func (t *memTx) HasEntry(_ context.Context, transactionID, accountID uuid.UUID, typ domain.EntryType) (bool, error) {
	_, ok := t.s.entryKeys[entryKey(transactionID, accountID, typ)]
	return ok, nil
}

func (t *memTx) SumDebitsSince(_ context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.s.entries {
		if e.AccountID == accountID && e.Type == domain.EntryDebit && !e.CreatedAt.Before(since) {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) RecipientsSince(_ context.Context, accountID uuid.UUID, since time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, tr := range t.s.transactions {
		if tr.AccountID != accountID || tr.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[tr.Recipient]; !ok {
			seen[tr.Recipient] = struct{}{}
			out = append(out, tr.Recipient)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) SumSendAmountsSince(_ context.Context, currency string, since time.Time, statuses []domain.Status) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range t.s.transactions {
		if tr.SendCurrency == currency && !tr.CreatedAt.Before(since) && slices.Contains(statuses, tr.Status) {
			sum = sum.Add(tr.SendAmount)
		}
	}
	return sum, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *domain.Transaction) error {
	if _, ok := t.s.transactions[tr.ID]; ok {
		return fmt.Errorf("%w: transaction %s", ErrConflict, tr.ID)
	}
	if tr.IdempotencyKey != nil {
		if _, ok := t.s.idemKeys[*tr.IdempotencyKey]; ok {
			return fmt.Errorf("%w: idempotency key", ErrConflict)
		}
		t.s.idemKeys[*tr.IdempotencyKey] = tr.ID
	}
	t.s.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) LockTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tr, ok := t.s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tr *domain.Transaction) error {
	cur, ok := t.s.transactions[tr.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = tr.Status
	cur.PaymentReference = tr.PaymentReference
	cur.PayoutReference = tr.PayoutReference
	cur.ChargebackWindowEndsAt = tr.ChargebackWindowEndsAt
	cur.UpdatedAt = tr.UpdatedAt
	t.s.transactions[tr.ID] = cur
	return nil
}

func (t *memTx) InsertAudit(_ context.Context, a *domain.AuditLogEntry) error {
	t.s.audit = append(t.s.audit, *a)
	return nil
}

func (t *memTx) InsertWebhookEvent(_ context.Context, e *domain.WebhookEvent) error {
	key := webhookKey(e.Provider, e.ExternalEventID)
	if _, ok := t.s.webhooks[key]; ok {
		return fmt.Errorf("%w: webhook %s/%s", ErrConflict, e.Provider, e.ExternalEventID)
	}
	t.s.webhooks[key] = *e
	return nil
}

func (t *memTx) MarkWebhookProcessed(_ context.Context, provider, externalEventID string, at time.Time) error {
	key := webhookKey(provider, externalEventID)
	e, ok := t.s.webhooks[key]
	if !ok {
		return ErrNotFound
	}
	e.Processed = true
	e.ProcessedAt = &at
	e.LastError = ""
	t.s.webhooks[key] = e
	return nil
}

func (t *memTx) RecordWebhookFailure(_ context.Context, provider, externalEventID, msg string) (int, error) {
	key := webhookKey(provider, externalEventID)
	e, ok := t.s.webhooks[key]
	if !ok {
		return 0, ErrNotFound
	}
	e.Attempts++
	e.LastError = msg
	t.s.webhooks[key] = e
	return e.Attempts, nil
}

func (t *memTx) InsertReconciliationRun(_ context.Context, r *domain.ReconciliationRun) error {
	t.s.recon = append(t.s.recon, *r)
	return nil
}

func (t *memTx) InsertDispute(_ context.Context, d *domain.Dispute) error {
	for _, existing := range t.s.disputes {
		if existing.TransactionID == d.TransactionID {
			return fmt.Errorf("%w: dispute for transaction %s", ErrConflict, d.TransactionID)
		}
	}
	t.s.disputes[d.ID] = *d
	return nil
}

func (t *memTx) LockDispute(_ context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d, ok := t.s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) UpdateDispute(_ context.Context, d *domain.Dispute) error {
	cur, ok := t.s.disputes[d.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = d.Status
	cur.Outcome = d.Outcome
	cur.ResolvedBy = d.ResolvedBy
	cur.ResolvedAt = d.ResolvedAt
	t.s.disputes[d.ID] = cur
	return nil
}

var _ Store = (*Memory)(nil)
