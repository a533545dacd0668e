package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/process"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func main() {
	p := process.Start("worker")
	cfg, logg := p.Config, p.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	p.Must("database", err)
	p.OnClose("database", dbClient.Close)

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	p.Must("redis", err)
	p.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	p.Must("pubsub", err)
	p.OnClose("pubsub", pubsubClient.Close)

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	p.Must("idempotency guard", err)

	mailer, err := notifications.NewTemplateMailer(notifications.NewTransport(cfg.SMTP, logg), cfg.App.PublicOrigin)
	p.Must("mailer", err)
	if !cfg.SMTP.Enabled() {
		logg.Warn(boot, "smtp not configured, order e-mails will only be logged")
	}

	subscription := pubsubClient.NotificationSubscription()
	if subscription == nil {
		p.Must("notification subscription", errors.New("STOREFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION is empty"))
	}

	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Subscription: subscription,
		Users:        users.NewRepository(dbClient.DB()),
		Mailer:       mailer,
		Idempotency:  guard,
		Logger:       logg,
	})
	p.Must("notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: []Dependency{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
			{Name: "pubsub", Pinger: pubsubClient},
		},
		Consumer: consumer,
	})
	p.Must("worker service", err)

	ctx, stop := p.Context()
	defer stop()
	logg.Info(ctx, "worker ready")
	p.Finish(ctx, service.Run(ctx))
}
