package analytics

import (
	"context"
	"errors"
	"io"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
)

type recordingRows struct {
	rows []*OrderEventRow
	err  error
}

func (r *recordingRows) Write(_ context.Context, row *OrderEventRow) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, row)
	return nil
}

type memGuard struct {
	calls    int
	done     map[uuid.UUID]bool
	inFlight bool
}

func (g *memGuard) Once(ctx context.Context, _ string, id uuid.UUID, handle func(context.Context) error) (bool, error) {
	g.calls++
	if g.inFlight {
		return false, idempotency.ErrInFlight
	}
	if g.done[id] {
		return true, nil
	}
	if err := handle(ctx); err != nil {
		return false, err
	}
	g.done[id] = true
	return false, nil
}

type noReceive struct{}

func (noReceive) Receive(context.Context, func(context.Context, *pubsub.Message)) error { return nil }

func newTestConsumer(t *testing.T, rows *recordingRows, guard *memGuard) *Consumer {
	t.Helper()
	if guard.done == nil {
		guard.done = map[uuid.UUID]bool{}
	}
	c, err := NewConsumer(ConsumerParams{
		Subscription: noReceive{},
		Rows:         rows,
		Guard:        guard,
		Logger:       logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return c
}

func paidBody() map[string]any {
	return map[string]any{
		"order_id":       uuid.NewString(),
		"order_number":   "SF-1",
		"user_id":        uuid.NewString(),
		"status":         "processing",
		"payment_status": "paid",
		"payment_method": "card",
		"total":          "12.50",
		"item_count":     2,
	}
}

func TestConsumerStoresRowOnce(t *testing.T) {
	rows := &recordingRows{}
	guard := &memGuard{}
	c := newTestConsumer(t, rows, guard)
	msg := orderMessage(t, enums.EventOrderPaid, paidBody())

	assert.True(t, c.handle(context.Background(), msg))
	assert.True(t, c.handle(context.Background(), msg), "redelivery is acked")
	require.Len(t, rows.rows, 1)
	assert.Equal(t, int64(1250), rows.rows[0].TotalCents)
	assert.Equal(t, "order_paid", rows.rows[0].EventType)
	assert.Equal(t, 2, guard.calls)
}

func TestConsumerNacksWhenRowNotStored(t *testing.T) {
	rows := &recordingRows{err: errors.New("bigquery down")}
	c := newTestConsumer(t, rows, &memGuard{})

	assert.False(t, c.handle(context.Background(), orderMessage(t, enums.EventOrderPaid, paidBody())))
}

func TestConsumerNacksInFlightEvents(t *testing.T) {
	rows := &recordingRows{}
	c := newTestConsumer(t, rows, &memGuard{inFlight: true})

	assert.False(t, c.handle(context.Background(), orderMessage(t, enums.EventOrderPaid, paidBody())))
	assert.Empty(t, rows.rows)
}

func TestConsumerAcksMessagesThatCannotProduceRows(t *testing.T) {
	cases := map[string]*pubsub.Message{
		"malformed":   {ID: "m", Data: []byte("invalid json")},
		"untracked":   orderMessage(t, enums.OutboxEventType("cart_abandoned"), map[string]any{}),
		"bad payload": orderMessage(t, enums.EventOrderPaid, "not an object"),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			rows := &recordingRows{}
			guard := &memGuard{}
			c := newTestConsumer(t, rows, guard)

			assert.True(t, c.handle(context.Background(), msg))
			assert.Empty(t, rows.rows)
			assert.Zero(t, guard.calls)
		})
	}
}

func TestNewConsumerRequiresDependencies(t *testing.T) {
	_, err := NewConsumer(ConsumerParams{Subscription: noReceive{}, Rows: &recordingRows{}})
	assert.Error(t, err)
}
