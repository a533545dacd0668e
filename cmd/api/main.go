package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/process"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	p := process.Start("api")
	cfg, logg := p.Config, p.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	p.Must("database", err)
	p.OnClose("database", dbClient.Close)
	p.Must("dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	p.Must("redis", err)
	p.OnClose("redis", redisClient.Close)

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)
	oracle := catalog.NewOracle(catalog.NewRepository(dbClient.DB()), cfg.Cart.LockStockRows)

	cartCounts := cart.NewRedisCountCache(redisClient, cfg.Cart.CountCacheTTL)
	cartService, err := cart.NewService(
		cart.NewRepository(dbClient.DB()),
		dbClient,
		oracle,
		cartCounts,
		engineMetrics,
		logg,
	)
	p.Must("cart service", err)

	orderService, err := orders.NewService(orders.ServiceParams{
		Repository:   orders.NewRepository(dbClient.DB()),
		Tx:           dbClient,
		Oracle:       oracle,
		Outbox:       outbox.NewEmitter(outbox.NewStore(dbClient.DB()), logg),
		CartCounts:   cartCounts,
		Metrics:      engineMetrics,
		Logger:       logg,
		PublicOrigin: cfg.App.PublicOrigin,
	})
	p.Must("orders service", err)

	server := &http.Server{
		Addr: listenAddr(cfg.App.Port),
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Idempotency:  redisClient,
			RateLimiter:  redisClient,
			CartService:  cartService,
			OrderService: orderService,
			HTTPMetrics:  metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := p.Context()
	defer stop()
	ctx = logg.WithField(ctx, "addr", server.Addr)
	logg.Info(ctx, "api server listening")
	p.Finish(ctx, serve(ctx, server))
}

// listenAddr prefers the platform-assigned PORT.
func listenAddr(configured string) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + configured
}

// serve blocks until the server fails or ctx is canceled, then drains
// in-flight requests.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
