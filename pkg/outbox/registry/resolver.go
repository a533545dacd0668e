package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// PermanentError marks a row that no amount of retrying will publish.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Event is an outbox row checked against its schema and routed to a topic.
type Event struct {
	Topic    string
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type Resolver struct {
	topics map[enums.OutboxAggregateType]string
}

// NewResolver routes every order event to the orders topic; consumers fan
// out through their own subscriptions.
func NewResolver(cfg config.PubSubConfig) (*Resolver, error) {
	topic := strings.TrimSpace(cfg.OrdersTopic)
	if topic == "" {
		return nil, errors.New("orders topic is required")
	}
	return &Resolver{topics: map[enums.OutboxAggregateType]string{
		enums.AggregateOrder: topic,
	}}, nil
}

// Resolve validates row and decodes its payload. Every failure is permanent:
// the row content is fixed once committed.
func (r *Resolver) Resolve(row models.OutboxEvent) (*Event, error) {
	if row.AggregateID == uuid.Nil {
		return nil, Permanent(errors.New("missing aggregate_id"))
	}
	env, err := DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	s, err := lookup(row.EventType, env.Version)
	if err != nil {
		return nil, Permanent(err)
	}
	if s.aggregate != row.AggregateType {
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row says %s", row.EventType, s.aggregate, row.AggregateType))
	}
	topic, ok := r.topics[s.aggregate]
	if !ok {
		return nil, Permanent(fmt.Errorf("no topic for %s aggregates", s.aggregate))
	}
	payload, err := s.decode(row.EventType, env.Data)
	if err != nil {
		return nil, Permanent(err)
	}
	return &Event{Topic: topic, Envelope: *env, Payload: payload}, nil
}
