package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

// RedisStore backs rate limiting, HTTP idempotency and the readiness check.
type RedisStore interface {
	pkgredis.IdempotencyStore
	controllers.Pinger
	middleware.RateLimitStore
}

// Dependencies are the services mounted on the API router. Nil services
// answer 500 "unavailable" from their handlers.
type Dependencies struct {
	DB       controllers.Pinger
	Redis    RedisStore
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTPMetrics

	Auth       auth.Service
	Products   controllers.ProductService
	Prices     cartcontrollers.PriceResolver
	Cart       cartcontrollers.Service
	Checkout   ordercontrollers.CheckoutService
	Orders     ordercontrollers.Service
	Payments   controllers.PaymentService
	Reconciler webhookcontrollers.Reconciler
	Stripe     webhookcontrollers.StripeEventHandler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.Metrics),
		middleware.SecurityHeaders(cfg.App.IsProd()),
		middleware.CORS(cfg.App.CORSOrigins),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path))
	})

	rl := cfg.RateLimit
	loginLimit := middleware.RateLimit(middleware.LoginRateLimit(rl.LoginWindow, rl.LoginIPLimit, rl.LoginEmailLimit), deps.Redis, logg)
	registerLimit := middleware.RateLimit(middleware.RegisterRateLimit(rl.RegisterWindow, rl.RegisterIPLimit, rl.RegisterEmailLimit), deps.Redis, logg)
	checkoutLimit := middleware.RateLimit(middleware.CheckoutRateLimit(rl.CheckoutWindow, rl.CheckoutUserLimit), deps.Redis, logg)

	idempotent := middleware.Idempotency(deps.Redis, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimit).Post("/login", controllers.AuthLogin(deps.Auth, logg))
			r.With(registerLimit).Post("/register", controllers.AuthRegister(deps.Auth, logg))
		})

		r.Post("/payments/webhook", webhookcontrollers.PaymentEvent(deps.Reconciler, cfg.Payments.WebhookSecret, logg))
		r.Post("/payments/webhook/stripe", webhookcontrollers.StripeWebhook(deps.Stripe, cfg.Stripe.WebhookSecret, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Get("/products", controllers.ProductList(deps.Products, logg))
			r.Get("/products/{productId}", controllers.ProductDetail(deps.Products, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
				r.Post("/products", controllers.AdminProductCreate(deps.Products, logg))
				r.Put("/products/{productId}", controllers.AdminProductUpdate(deps.Products, logg))
				r.Delete("/products/{productId}", controllers.AdminProductDelete(deps.Products, logg))
			})

			r.With(idempotent).Post("/cart", cartcontrollers.Create(deps.Cart, logg))
			r.Get("/cart/{cartId}", cartcontrollers.Get(deps.Cart, logg))
			r.Post("/cart/{cartId}/items", cartcontrollers.AddItem(deps.Cart, deps.Prices, logg))
			r.Put("/cart/{cartId}/items/{itemId}", cartcontrollers.UpdateItem(deps.Cart, logg))
			r.Delete("/cart/{cartId}/items/{itemId}", cartcontrollers.RemoveItem(deps.Cart, logg))
			r.Delete("/cart/{cartId}/items", cartcontrollers.Clear(deps.Cart, logg))

			r.With(checkoutLimit).Post("/orders", ordercontrollers.Checkout(deps.Checkout, logg))
			r.Get("/orders", ordercontrollers.List(deps.Orders, logg))
			r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Put("/orders/{orderId}", ordercontrollers.UpdateStatus(deps.Orders, logg))
			r.Delete("/orders/{orderId}", ordercontrollers.Cancel(deps.Orders, logg))

			r.With(idempotent).Post("/payments", controllers.PaymentInitiate(deps.Payments, logg))
			r.Get("/payments", controllers.PaymentList(deps.Payments, logg))
			r.Get("/payments/{paymentId}", controllers.PaymentDetail(deps.Payments, logg))
		})
	})

	return r
}
