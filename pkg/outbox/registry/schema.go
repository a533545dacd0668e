// Package registry knows every event the outbox carries: the aggregate that
// owns it, the topic it is published to and the Go type of each payload
// version. The relay resolves rows against it before publishing and the
// consumers decode payloads through it.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

var ErrUnknownSchema = errors.New("unknown event schema")

type schemaKey struct {
	event   enums.OutboxEventType
	version int
}

type schema struct {
	aggregate  enums.OutboxAggregateType
	newPayload func() any
}

func orderPayload[T any]() schema {
	return schema{
		aggregate:  enums.AggregateOrder,
		newPayload: func() any { return new(T) },
	}
}

// Adding a payload version means adding a row here; old versions stay so
// queued rows keep decoding.
var schemas = map[schemaKey]schema{
	{enums.EventOrderCreated, 1}:       orderPayload[payloads.OrderCreatedEvent](),
	{enums.EventOrderCanceled, 1}:      orderPayload[payloads.OrderCanceledEvent](),
	{enums.EventOrderStatusChanged, 1}: orderPayload[payloads.OrderStatusChangedEvent](),
	{enums.EventOrderRetried, 1}:       orderPayload[payloads.OrderRetriedEvent](),
	{enums.EventOrderPaid, 1}:          orderPayload[payloads.OrderPaidEvent](),
	{enums.EventPaymentFailed, 1}:      orderPayload[payloads.PaymentFailedEvent](),
}

func lookup(eventType enums.OutboxEventType, version int) (schema, error) {
	if version == 0 {
		version = 1
	}
	s, ok := schemas[schemaKey{eventType, version}]
	if !ok {
		return schema{}, fmt.Errorf("%w: %s v%d", ErrUnknownSchema, eventType, version)
	}
	return s, nil
}

// Decode returns a pointer to the payload struct registered for eventType at
// version, e.g. *payloads.OrderPaidEvent.
func Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	s, err := lookup(eventType, version)
	if err != nil {
		return nil, err
	}
	return s.decode(eventType, data)
}

func (s schema) decode(eventType enums.OutboxEventType, data json.RawMessage) (any, error) {
	payload := s.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}

// DecodeEnvelope parses a stored or published envelope and rejects one
// without data.
func DecodeEnvelope(raw []byte) (*outbox.PayloadEnvelope, error) {
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("envelope %q carries no data", env.EventID)
	}
	return &env, nil
}
