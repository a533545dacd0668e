package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-backend/pkg/process"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
)

func main() {
	p := process.Start("outbox-publisher")
	cfg, logg := p.Config, p.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	p.Must("database", err)
	p.OnClose("database", dbClient.Close)
	p.Must("dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	p.Must("pubsub", err)
	p.OnClose("pubsub", pubsubClient.Close)

	events, err := registry.NewResolver(cfg.PubSub)
	p.Must("event registry", err)

	relay, err := NewRelay(RelayParams{
		Options:  OptionsFromConfig(cfg.Outbox),
		Logger:   logg,
		DB:       dbClient,
		PubSub:   pubsubClient,
		Events:   outbox.NewStore(dbClient.DB()),
		Registry: events,
		Metrics:  metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	p.Must("outbox relay", err)

	ctx, stop := p.Context()
	defer stop()
	logg.Info(ctx, "outbox publisher ready")
	p.Finish(ctx, relay.Run(ctx))
}
