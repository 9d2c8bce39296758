package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shelfwise/services/ledger/internal/db"
	"go.uber.org/zap"
)

// NewRouter builds the service router: ledger and catalog endpoints plus
// health and metrics.
func NewRouter(h *Handler, database *db.DB) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", healthHandler(database, h.Events, h.Log))
	r.Handle("/metrics", promhttp.Handler())

	h.Register(r)
	return r
}

func healthHandler(database *db.DB, events EventPublisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check database connection
		if err := database.Ping(); err != nil {
			log.Error("Database health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: database connection failed"))
			return
		}

		// Check broker connection when events are enabled
		if events != nil && !events.IsHealthy() {
			log.Error("RabbitMQ health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: rabbitmq connection failed"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
}
