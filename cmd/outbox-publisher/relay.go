package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

type Options struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	PublishTimeout time.Duration
	MaxBackoff     time.Duration
}

func OptionsFromConfig(cfg config.OutboxConfig) Options {
	return Options{
		BatchSize:    cfg.BatchSize,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.MaxAttempts,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 15 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type relayMetrics interface {
	IncPublished(enums.OutboxEventType)
	IncFailed(enums.OutboxEventType, int)
	IncDeadLettered(enums.OutboxEventType)
	SetBatchSize(int)
}

type discardMetrics struct{}

func (discardMetrics) IncPublished(enums.OutboxEventType)    {}
func (discardMetrics) IncFailed(enums.OutboxEventType, int)  {}
func (discardMetrics) IncDeadLettered(enums.OutboxEventType) {}
func (discardMetrics) SetBatchSize(int)                      {}

type eventStore interface {
	Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	DeadLetter(tx *gorm.DB, entry models.OutboxDLQ, retireAt int) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.Event, error)
}

// publisher and pendingPublish narrow the pubsub types so tests can fake
// the broker.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) pendingPublish
}

type pendingPublish interface {
	Get(context.Context) (string, error)
}

type RelayParams struct {
	Options  Options
	Logger   *logger.Logger
	DB       txRunner
	PubSub   topicSource
	Events   eventStore
	Registry eventResolver
	Metrics  relayMetrics

	// Publishers overrides topic lookup; nil uses PubSub.
	Publishers func(topic string) publisher
}

// Relay drains outbox rows to Pub/Sub. Each batch is claimed under
// FOR UPDATE SKIP LOCKED so several relays can run side by side, and every
// row is settled inside the transaction that claimed it.
type Relay struct {
	opts     Options
	logg     *logger.Logger
	db       txRunner
	pubsub   topicSource
	events   eventStore
	registry eventResolver
	metrics  relayMetrics
	lookup   func(topic string) publisher

	mu       sync.Mutex
	topics   map[string]publisher
	stoppers []func()
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Events == nil:
		return nil, errors.New("outbox store is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}
	r := &Relay{
		opts:     p.Options.withDefaults(),
		logg:     p.Logger,
		db:       p.DB,
		pubsub:   p.PubSub,
		events:   p.Events,
		registry: p.Registry,
		metrics:  p.Metrics,
		lookup:   p.Publishers,
		topics:   make(map[string]publisher),
	}
	if r.metrics == nil {
		r.metrics = discardMetrics{}
	}
	if r.lookup == nil {
		r.lookup = r.brokerPublisher
	}
	return r, nil
}

// Run polls until ctx ends. A full batch is followed immediately by the next
// one; an empty batch waits one poll interval; a failed batch backs off.
func (r *Relay) Run(ctx context.Context) error {
	defer r.stopPublishers()

	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{{"database", r.db.Ping}, {"pubsub", r.pubsub.Ping}} {
		if err := dep.ping(ctx); err != nil {
			r.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	delay := backoff{base: r.opts.PollInterval, max: r.opts.MaxBackoff}
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		handled, err := r.drainOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = delay.next()
		case handled == r.opts.BatchSize:
			delay.reset()
			continue
		default:
			delay.reset()
			wait = r.opts.PollInterval
		}
		if err := sleepCtx(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// delivery is one claimed row on its way through the broker.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.Event
	pending  pendingPublish
	err      error
}

// drainOnce claims one batch, publishes every resolvable row concurrently and
// then settles each row in claim order. It returns the number of rows claimed.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.Claim(tx, r.opts.BatchSize, r.opts.MaxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows)
		r.metrics.SetBatchSize(claimed)
		if claimed == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
		defer cancel()

		deliveries := make([]*delivery, 0, len(rows))
		for _, row := range rows {
			deliveries = append(deliveries, r.send(publishCtx, row))
		}
		for _, d := range deliveries {
			if d.err == nil {
				_, d.err = d.pending.Get(publishCtx)
			}
			if err := r.settle(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (r *Relay) send(ctx context.Context, event models.OutboxEvent) *delivery {
	d := &delivery{event: event}
	d.resolved, d.err = r.registry.Resolve(event)
	if d.err != nil {
		return d
	}
	topic := d.resolved.Topic
	pub := r.publisherFor(topic)
	if pub == nil {
		d.err = registry.Permanent(fmt.Errorf("no publisher for topic %s", topic))
		return d
	}
	d.pending = pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, d.resolved),
	})
	if d.pending == nil {
		d.err = registry.Permanent(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	return d
}

// messageAttributes lets subscribers filter and dedupe without decoding the
// body.
func messageAttributes(event models.OutboxEvent, resolved *registry.Event) map[string]string {
	return map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	event := d.event
	ctx = r.logg.WithFields(ctx, r.logFields(d))

	if d.err == nil {
		if err := r.events.MarkPublished(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.metrics.IncPublished(event.EventType)
		r.logg.Info(ctx, "outbox event published")
		return nil
	}

	if registry.IsPermanent(d.err) {
		return r.deadLetterRow(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, d.err)
	}

	attempt := event.AttemptCount + 1
	if attempt >= r.opts.MaxAttempts {
		return r.deadLetterRow(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", attempt, d.err))
	}

	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"attempt": attempt,
		"error":   d.err.Error(),
	}), "outbox publish failed, will retry")
	r.metrics.IncFailed(event.EventType, attempt)
	if err := r.events.RecordFailure(tx, event.ID, d.err); err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	return nil
}

func (r *Relay) deadLetterRow(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        msg,
	}), "outbox event dead-lettered")

	if err := r.events.DeadLetter(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now(),
	}, r.opts.MaxAttempts); err != nil {
		return fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	r.metrics.IncDeadLettered(event.EventType)
	return nil
}

func (r *Relay) logFields(d *delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":     d.event.ID.String(),
		"event_type":    d.event.EventType,
		"aggregate_id":  d.event.AggregateID.String(),
		"attempt_count": d.event.AttemptCount,
	}
	if d.resolved != nil {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["topic"] = d.resolved.Topic
	}
	return fields
}

func (r *Relay) publisherFor(topic string) publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pub, ok := r.topics[topic]; ok {
		return pub
	}
	pub := r.lookup(topic)
	if pub != nil {
		r.topics[topic] = pub
	}
	return pub
}

// brokerPublisher wraps a live topic handle. Handles are kept for the life
// of the relay and flushed by stopPublishers.
func (r *Relay) brokerPublisher(topic string) publisher {
	handle := r.pubsub.Publisher(topic)
	if handle == nil {
		return nil
	}
	r.stoppers = append(r.stoppers, handle.Stop)
	return brokerPublisher{handle}
}

func (r *Relay) stopPublishers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stop := range r.stoppers {
		stop()
	}
	r.stoppers = nil
	r.topics = make(map[string]publisher)
}

type brokerPublisher struct {
	handle *gcppubsub.Publisher
}

func (b brokerPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) pendingPublish {
	return b.handle.Publish(ctx, msg)
}

// backoff doubles from base up to max.
type backoff struct {
	base, max, cur time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.base
	} else {
		b.cur *= 2
	}
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

const maxJitter = 250 * time.Millisecond

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(maxJitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
