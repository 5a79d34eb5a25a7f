package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/articurated/orderflow/internal/service"
	"github.com/articurated/orderflow/pkg/health"
	"github.com/articurated/orderflow/pkg/middleware"
)

// RouterConfig carries the cross-cutting settings the router needs.
type RouterConfig struct {
	APIKey      string
	CORS        middleware.CORSConfig
	PprofCIDRs  []string
	ServiceName string
}

// NewRouter creates a chi router with all order and return routes registered.
// Health, metrics, and pprof endpoints are unauthenticated; everything under
// /api/v1 requires the API key.
func NewRouter(
	orderService *service.OrderService,
	returnService *service.ReturnService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	if cfg.ServiceName == "" {
		cfg.ServiceName = "orderflow"
	}

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	orderHandler := NewOrderHandler(orderService, logger)
	returnHandler := NewReturnHandler(returnService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))
		r.Use(ContentTypeJSON)
		// Lifecycle state changes between requests; never cache reads.
		r.Use(middleware.CacheControl(0))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{id}", orderHandler.GetOrder)
			r.Patch("/{id}/state", orderHandler.TransitionOrder)
			r.Patch("/{id}/shipping", orderHandler.UpdateOrderShipping)
			r.Get("/{id}/history", orderHandler.OrderHistory)
			r.Get("/{id}/audit", orderHandler.OrderHistory)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Post("/", returnHandler.CreateReturn)
			r.Get("/", returnHandler.ListReturns)
			r.Get("/{id}", returnHandler.GetReturn)
			r.Patch("/{id}/state", returnHandler.TransitionReturn)
			r.Patch("/{id}/approve", returnHandler.ApproveReturn)
			r.Patch("/{id}/reject", returnHandler.RejectReturn)
			r.Patch("/{id}/shipping", returnHandler.UpdateReturnShipping)
			r.Get("/{id}/history", returnHandler.ReturnHistory)
			r.Get("/{id}/audit", returnHandler.ReturnHistory)
		})
	})

	return r
}
