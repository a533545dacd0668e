package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/internal/analytics"
	"github.com/angelmondragon/storefront-backend/pkg/bigquery"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/process"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func main() {
	p := process.Start("analytics-worker")
	cfg, logg := p.Config, p.Logger
	boot := context.Background()

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	p.Must("redis", err)
	p.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	p.Must("pubsub", err)
	p.OnClose("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(boot, cfg.GCP, cfg.BigQuery, logg)
	p.Must("bigquery", err)
	p.OnClose("bigquery", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		p.Must("analytics subscription", errors.New("STOREFRONT_PUBSUB_ANALYTICS_SUBSCRIPTION is empty"))
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	p.Must("idempotency guard", err)

	sink, err := analytics.NewSink(analytics.SinkParams{
		Inserter:      bqClient,
		Table:         cfg.BigQuery.OrderEventsTable,
		Logger:        logg,
		BatchSize:     cfg.BigQuery.BatchSize,
		FlushInterval: cfg.BigQuery.FlushInterval,
		MaxAttempts:   cfg.BigQuery.MaxAttempts,
	})
	p.Must("order events sink", err)
	// registered last so it runs before the bigquery client closes
	p.OnClose("order events sink", func() error { return sink.Flush(context.Background()) })

	consumer, err := analytics.NewConsumer(analytics.ConsumerParams{
		Subscription: subscription,
		Rows:         sink,
		Guard:        guard,
		Logger:       logg,
	})
	p.Must("analytics consumer", err)

	ctx, stop := p.Context()
	defer stop()
	logg.Info(ctx, "analytics worker ready")
	p.Finish(ctx, consumer.Run(ctx))
}
