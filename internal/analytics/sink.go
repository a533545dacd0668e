package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/storefront-backend/pkg/bigquery"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultBatchSize      = 100
	defaultFlushInterval  = time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	insertTimeout         = 30 * time.Second
)

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows any) error
}

type SinkParams struct {
	Inserter      rowInserter
	Table         string
	Logger        *logger.Logger
	BatchSize     int
	FlushInterval time.Duration
	MaxAttempts   int
	// backoff between attempts, doubling up to MaxBackoff
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Sink groups rows from concurrent callers into streaming inserts. Write
// returns once the batch holding the row is stored, so a caller never acks
// an event whose row could still be lost.
type Sink struct {
	inserter rowInserter
	table    string
	logg     *logger.Logger
	size     int
	linger   time.Duration
	attempts int
	initial  time.Duration
	maxWait  time.Duration

	mu      sync.Mutex
	pending *batch
}

type batch struct {
	rows  []*OrderEventRow
	timer *time.Timer
	done  chan struct{}
	err   error
}

func NewSink(p SinkParams) (*Sink, error) {
	if p.Inserter == nil {
		return nil, errors.New("analytics: bigquery inserter required")
	}
	if p.Logger == nil {
		return nil, errors.New("analytics: logger required")
	}
	table := strings.TrimSpace(p.Table)
	if table == "" {
		return nil, errors.New("analytics: order events table required")
	}
	s := &Sink{
		inserter: p.Inserter,
		table:    table,
		logg:     p.Logger,
		size:     orDefault(p.BatchSize, defaultBatchSize),
		linger:   orDefault(p.FlushInterval, defaultFlushInterval),
		attempts: orDefault(p.MaxAttempts, defaultMaxAttempts),
		initial:  orDefault(p.InitialBackoff, defaultInitialBackoff),
		maxWait:  orDefault(p.MaxBackoff, defaultMaxBackoff),
	}
	s.maxWait = max(s.maxWait, s.initial)
	return s, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Write queues row and waits for its batch. A canceled ctx stops the wait,
// not the insert other callers share.
func (s *Sink) Write(ctx context.Context, row *OrderEventRow) error {
	s.mu.Lock()
	b := s.pending
	if b == nil {
		b = &batch{done: make(chan struct{})}
		s.pending = b
		if s.size > 1 {
			b.timer = time.AfterFunc(s.linger, func() { s.flushIf(b) })
		}
	}
	b.rows = append(b.rows, row)
	full := len(b.rows) >= s.size
	if full {
		s.pending = nil
	}
	s.mu.Unlock()

	if full {
		if b.timer != nil {
			b.timer.Stop()
		}
		s.insert(b)
	}
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush sends the open batch without waiting for it to fill.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	b := s.pending
	s.pending = nil
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	s.insert(b)
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushIf runs from the linger timer and only sends b if nobody else has.
func (s *Sink) flushIf(b *batch) {
	s.mu.Lock()
	if s.pending != b {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()
	s.insert(b)
}

func (s *Sink) insert(b *batch) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	b.err = s.insertWithRetry(ctx, b.rows)
	close(b.done)
}

// insertWithRetry keys every row by event id so BigQuery can drop the
// duplicates a retried or redelivered insert produces.
func (s *Sink) insertWithRetry(ctx context.Context, rows []*OrderEventRow) error {
	savers := make([]*cbigquery.StructSaver, len(rows))
	for i, row := range rows {
		savers[i] = &cbigquery.StructSaver{Struct: row, InsertID: row.EventID}
	}
	wait := s.initial
	for attempt := 1; ; attempt++ {
		err := s.inserter.InsertRows(ctx, s.table, savers)
		if err == nil {
			return nil
		}
		if attempt >= s.attempts || !bigquery.Retryable(err) {
			return fmt.Errorf("insert %d rows into %s after %d attempt(s): %w", len(rows), s.table, attempt, err)
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"table":   s.table,
			"rows":    len(rows),
			"attempt": attempt,
			"error":   err.Error(),
		}), "bigquery insert failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, s.maxWait)
	}
}
