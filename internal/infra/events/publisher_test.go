package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPPublisher_RoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p := events.NewAMQPPublisher(ch, "ledger.events", zap.NewNop())

	e := domain.Event{
		ID:         "evt-1",
		Type:       domain.EventCollectionCommitted,
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Payload:    map[string]string{"collector_id": "c-1"},
	}
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "ledger.events", got.exchange)
	assert.Equal(t, domain.EventCollectionCommitted, got.key)
	assert.Equal(t, "evt-1", got.msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, domain.EventCollectionCommitted, decoded["type"])
}

func TestAMQPPublisher_ChannelError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := events.NewAMQPPublisher(ch, "ledger.events", zap.NewNop())

	err := p.Publish(context.Background(), domain.Event{ID: "evt-2", Type: domain.EventDonationCompleted})
	assert.ErrorContains(t, err, "channel closed")
}
