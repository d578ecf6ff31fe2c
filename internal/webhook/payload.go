package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
)

// Event types understood by the dispatcher.
const (
	TypePaymentSuccess = "payment.success"
	TypePaymentFailed  = "payment.failed"
	TypePayoutSuccess  = "payout.success"
	TypePayoutFailed   = "payout.failed"
	// TypePaymentDisputed reports a card dispute against a captured payment.
	TypePaymentDisputed = "payment.disputed"
)

// Column widths in webhook_events.
const (
	MaxEventIDLength   = 255
	MaxEventTypeLength = 64
)

type Data struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

// Payload is the provider-neutral callback body.
type Payload struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    Data   `json:"data"`
}

// Parse decodes a callback body and rejects one that cannot be stored.
func Parse(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if p.EventID == "" || p.Type == "" {
		return nil, fmt.Errorf("%w: missing event_id or type", domain.ErrInvalidRequest)
	}
	if len(p.EventID) > MaxEventIDLength {
		return nil, fmt.Errorf("%w: event_id longer than %d bytes", domain.ErrInvalidRequest, MaxEventIDLength)
	}
	if len(p.Type) > MaxEventTypeLength {
		return nil, fmt.Errorf("%w: type longer than %d bytes", domain.ErrInvalidRequest, MaxEventTypeLength)
	}
	return &p, nil
}
