package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Notification tells the sender that a transaction reached a terminal status.
type Notification struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Status          domain.Status   `json:"status"`
	SendAmount      decimal.Decimal `json:"send_amount"`
	SendCurrency    string          `json:"send_currency"`
	ReceiveAmount   decimal.Decimal `json:"receive_amount"`
	ReceiveCurrency string          `json:"receive_currency"`
	Recipient       string          `json:"recipient"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func FromTransaction(t *domain.Transaction, at time.Time) Notification {
	return Notification{
		TransactionID:   t.ID,
		AccountID:       t.AccountID,
		Status:          t.Status,
		SendAmount:      t.SendAmount,
		SendCurrency:    t.SendCurrency,
		ReceiveAmount:   t.ReceiveAmount,
		ReceiveCurrency: t.ReceiveCurrency,
		Recipient:       t.Recipient,
		OccurredAt:      at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }

// Recorder keeps published notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Publish(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
