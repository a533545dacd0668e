package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// EngineMetrics covers cart mutations and order lifecycle events.
type EngineMetrics struct {
	cartMutations *prometheus.CounterVec
	mergedLines   prometheus.Histogram
	countCache    *prometheus.CounterVec
	orderEvents   *prometheus.CounterVec
}

// NewEngineMetrics registers the cart and order metrics on reg. A nil
// registerer yields a recorder that drops every observation.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	cartMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and outcome.",
	}, []string{"operation", "outcome"})
	mergedLines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_merged_lines",
		Help:    "Lines folded from a guest cart into an account cart at login.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
	})
	countCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_count_cache_lookups_total",
		Help: "Cart badge count cache lookups by result.",
	}, []string{"result"})
	orderEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_events_total",
		Help: "Committed order lifecycle events by type.",
	}, []string{"event"})
	reg.MustRegister(cartMutations, mergedLines, countCache, orderEvents)
	return &EngineMetrics{
		cartMutations: cartMutations,
		mergedLines:   mergedLines,
		countCache:    countCache,
		orderEvents:   orderEvents,
	}
}

func (m *EngineMetrics) ObserveCartMutation(operation, outcome string) {
	if m == nil || m.cartMutations == nil {
		return
	}
	m.cartMutations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) ObserveMergedLines(lines int) {
	if m == nil || m.mergedLines == nil {
		return
	}
	m.mergedLines.Observe(float64(lines))
}

func (m *EngineMetrics) ObserveCountCache(hit bool) {
	if m == nil || m.countCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.countCache.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveOrderEvent(event enums.OutboxEventType) {
	if m == nil || m.orderEvents == nil {
		return
	}
	m.orderEvents.WithLabelValues(normalizeLabel(string(event))).Inc()
}

// OutboxMetrics tracks the publisher loop.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	batchSize    prometheus.Gauge
}

// NewOutboxMetrics registers the publisher metrics on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events delivered to the broker.",
	}, []string{"event"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Failed outbox publish attempts.",
	}, []string{"event", "attempt"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the dead letter table.",
	}, []string{"event"})
	batchSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size",
		Help: "Rows fetched by the most recent publisher poll.",
	})
	reg.MustRegister(published, failed, deadLettered, batchSize)
	return &OutboxMetrics{
		published:    published,
		failed:       failed,
		deadLettered: deadLettered,
		batchSize:    batchSize,
	}
}

func (m *OutboxMetrics) IncPublished(event enums.OutboxEventType) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(string(event))).Inc()
}

func (m *OutboxMetrics) IncFailed(event enums.OutboxEventType, attempt int) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(string(event)), strconv.Itoa(attempt)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(event enums.OutboxEventType) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(string(event))).Inc()
}

func (m *OutboxMetrics) SetBatchSize(n int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Set(float64(n))
}

// normalizeLabel keeps label cardinality bounded to lowercase values.
func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
