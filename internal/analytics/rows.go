package analytics

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// OrderEventRow mirrors the order_events table, one row per order event.
type OrderEventRow struct {
	EventID        string              `bigquery:"event_id"`
	EventType      string              `bigquery:"event_type"`
	OccurredAt     time.Time           `bigquery:"occurred_at"`
	OrderID        string              `bigquery:"order_id"`
	OrderNumber    string              `bigquery:"order_number"`
	UserID         string              `bigquery:"user_id"`
	Status         string              `bigquery:"status"`
	PaymentStatus  string              `bigquery:"payment_status"`
	PaymentMethod  string              `bigquery:"payment_method"`
	TotalCents     int64               `bigquery:"total_cents"`
	ItemCount      int64               `bigquery:"item_count"`
	PreviousStatus bigquery.NullString `bigquery:"previous_status"`
	Reason         bigquery.NullString `bigquery:"reason"`
	Payload        bigquery.NullJSON   `bigquery:"payload"`
}

// tracked lists the events that land in order_events.
var tracked = map[enums.OutboxEventType]bool{
	enums.EventOrderCreated:       true,
	enums.EventOrderPaid:          true,
	enums.EventOrderCanceled:      true,
	enums.EventOrderStatusChanged: true,
	enums.EventOrderRetried:       true,
	enums.EventPaymentFailed:      true,
}

func orderEventRow(env Envelope, payload any) (*OrderEventRow, error) {
	var (
		order    payloads.OrderSnapshot
		previous enums.OrderStatus
		reason   string
	)
	switch event := payload.(type) {
	case *payloads.OrderCreatedEvent:
		order = event.OrderSnapshot
	case *payloads.OrderPaidEvent:
		order = event.OrderSnapshot
	case *payloads.OrderCanceledEvent:
		order, previous = event.OrderSnapshot, event.PreviousStatus
	case *payloads.OrderStatusChangedEvent:
		order, previous = event.OrderSnapshot, event.PreviousStatus
	case *payloads.OrderRetriedEvent:
		order, previous = event.OrderSnapshot, event.PreviousStatus
	case *payloads.PaymentFailedEvent:
		order, reason = event.OrderSnapshot, event.Reason
	default:
		return nil, fmt.Errorf("no order event row for %T (%s)", payload, env.EventType)
	}

	return &OrderEventRow{
		EventID:        env.EventID.String(),
		EventType:      string(env.EventType),
		OccurredAt:     env.OccurredAt.UTC(),
		OrderID:        order.OrderID.String(),
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID.String(),
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		TotalCents:     order.Total.Shift(2).Round(0).IntPart(),
		ItemCount:      int64(order.ItemCount),
		PreviousStatus: nullString(string(previous)),
		Reason:         nullString(reason),
		Payload:        nullJSON(env.Payload),
	}, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullJSON(raw []byte) bigquery.NullJSON {
	if len(raw) == 0 || string(raw) == "null" {
		return bigquery.NullJSON{}
	}
	return bigquery.NullJSON{JSONVal: string(raw), Valid: true}
}
