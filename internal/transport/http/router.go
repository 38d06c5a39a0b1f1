package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycgate/internal/platform/metrics"
	"kycgate/internal/platform/middleware"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/platform/middleware/metadata"
	"kycgate/pkg/platform/middleware/requesttime"
)

// readinessTimeout bounds each dependency check.
const readinessTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Routes is implemented by feature handlers that mount their own endpoints.
type Routes interface {
	Register(r chi.Router)
}

// Dependencies are the pieces the router needs from main.
type Dependencies struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Readiness maps a dependency name to its health check. Empty means ready.
	Readiness map[string]Check
	Routes    []Routes
}

// NewRouter wires the shared middleware chain, the operational endpoints and
// every feature handler.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	r.Get("/healthz", handleLiveness)
	r.Get("/readyz", handleReadiness(deps.Readiness))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	for _, routes := range deps.Routes {
		routes.Register(r)
	}
	return r
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadiness(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var failing []string
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				failing = append(failing, name)
			}
		}
		if len(failing) > 0 {
			slices.Sort(failing)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "unavailable",
				"failing": failing,
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
