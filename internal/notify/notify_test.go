package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTransaction(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	tx := &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     uuid.New(),
		Status:        domain.StatusPayoutSuccess,
		SendAmount:    decimal.NewFromInt(50),
		SendCurrency:  "GBP",
		ReceiveAmount: decimal.RequireFromString("8814.50"),
	}

	require.NoError(t, p.Publish(context.Background(), FromTransaction(tx, time.Now())))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, tx.ID.String(), string(w.msgs[0].Key))

	var got Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, domain.StatusPayoutSuccess, got.Status)
	assert.True(t, got.ReceiveAmount.Equal(tx.ReceiveAmount))

	w.err = errors.New("broker unreachable")
	assert.Error(t, p.Publish(context.Background(), FromTransaction(tx, time.Now())))
}
