package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	SessionCookie  string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func NewRouter(
	cfg RouterConfig,
	carts *CartHandler,
	orders *OrdersHandler,
	sessions session.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(MetricsMiddleware(m))
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(sessions, cfg.SessionCookie, cfg.SessionTTL, logger))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", carts.GetCart)
				r.Delete("/", carts.ClearCart)
				r.Post("/items", carts.AddItem)
				r.Delete("/items/{product_id}", carts.RemoveItem)
				r.Post("/items/{product_id}/increment", carts.Increment)
				r.Post("/items/{product_id}/decrement", carts.Decrement)
			})
			r.Post("/checkout", orders.Checkout)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Get("/", orders.ListOrders)
			r.Get("/{id}", orders.GetOrder)
			r.Post("/{id}/payment", orders.SubmitPayment)
			r.Get("/{id}/payment", orders.PaymentStatus)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
