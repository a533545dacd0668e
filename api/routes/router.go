package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type pinger interface {
	Ping(context.Context) error
}

// rateLimiter is satisfied by *redis.Client.
type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RouterParams carries everything the HTTP surface needs. Redis backed
// middleware is skipped when its store is nil.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           pinger
	Redis        pinger
	Idempotency  middleware.ResponseStore
	RateLimiter  rateLimiter
	CartService  cart.Service
	OrderService orders.Service
	HTTPMetrics  *metrics.HTTPMetrics
	Gatherer     prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		chimiddleware.RealIP,
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	cartPolicy := middleware.NewRateLimitPolicy("cart", cfg.RateLimit.Window, cfg.RateLimit.CartLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, cfg.RateLimit.CheckoutLimit)
	cartSettings := cartcontrollers.SettingsFrom(cfg.Cart)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.Dependency{Name: "db", Pinger: p.DB},
			controllers.Dependency{Name: "redis", Pinger: p.Redis},
		))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(cartPolicy, p.RateLimiter, logg))

		r.Get("/", cartcontrollers.GetCart(p.CartService, cartSettings, logg))
		r.Post("/", cartcontrollers.AddItem(p.CartService, cartSettings, logg))
		r.Delete("/", cartcontrollers.ClearCart(p.CartService, cartSettings, logg))
		r.Get("/count", cartcontrollers.CountItems(p.CartService, cartSettings, logg))
		r.Put("/items/{itemId}", cartcontrollers.UpdateItem(p.CartService, cartSettings, logg))
		r.Delete("/items/{itemId}", cartcontrollers.RemoveItem(p.CartService, cartSettings, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Post("/sync", cartcontrollers.SyncCart(p.CartService, cartSettings, logg))
			r.Post("/merge", cartcontrollers.MergeCart(p.CartService, cartSettings, logg))
		})
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(cartPolicy, p.RateLimiter, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		checkout := middleware.RateLimit(checkoutPolicy, p.RateLimiter, logg)
		r.Get("/", ordercontrollers.ListOrders(p.OrderService, logg))
		r.With(checkout).Post("/", ordercontrollers.CreateOrder(p.OrderService, logg))
		r.Get("/number/{number}", ordercontrollers.GetOrderByNumber(p.OrderService, logg))
		r.Get("/{orderId}", ordercontrollers.GetOrder(p.OrderService, logg))
		r.Post("/{orderId}/cancel", ordercontrollers.CancelOrder(p.OrderService, logg))
		r.With(checkout).Post("/{orderId}/repay", ordercontrollers.RepayOrder(p.OrderService, cfg.App.AllowedOrigins(), logg))
	})

	r.Route("/api/admin/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Get("/", ordercontrollers.AdminListOrders(p.OrderService, logg))
		r.Get("/{orderId}", ordercontrollers.AdminGetOrder(p.OrderService, logg))
		r.Patch("/{orderId}/status", ordercontrollers.AdminUpdateStatus(p.OrderService, logg))
		r.Post("/{orderId}/payment", ordercontrollers.AdminConfirmPayment(p.OrderService, logg))
	})

	return r
}
