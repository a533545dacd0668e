package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/process"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func main() {
	p := process.Start("cron-worker")
	cfg, logg := p.Config, p.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	p.Must("database", err)
	p.OnClose("database", dbClient.Close)
	p.Must("dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	p.Must("redis", err)
	p.OnClose("redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.Interval)
	p.Must("cron lock", err)

	cartJob, err := cron.NewCartRetentionJob(cron.CartRetentionJobParams{
		Logger:     logg,
		Repository: cart.NewRepository(dbClient.DB()),
		Retention:  cfg.Cart.RetentionDays,
		GuestIdle:  cfg.Cart.CookieTTL,
	})
	p.Must("cart retention job", err)

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		Store:         outbox.NewStore(dbClient.DB()),
		RetentionDays: cfg.Outbox.RetentionDays,
	})
	p.Must("outbox retention job", err)

	jobs, err := cron.NewRegistry(cartJob, outboxJob)
	p.Must("cron registry", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	p.Must("cron service", err)

	ctx, stop := p.Context()
	defer stop()
	logg.Info(ctx, "cron worker ready")
	p.Finish(ctx, service.Run(ctx))
}

// lockName scopes the lease per environment so staging and prod crons never
// contend for one key.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
