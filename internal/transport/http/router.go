// Package httptransport is the thin HTTP layer. Handlers decode, delegate
// to the domain services and encode; no business rules live here.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"electorate/internal/admin"
	"electorate/internal/platform/metrics"
	"electorate/internal/ratelimit"
	"electorate/pkg/platform/middleware/metadata"
	"electorate/pkg/platform/middleware/request"
	"electorate/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router serves. Admin and Artifacts may be nil;
// their routes are then not mounted.
type Deps struct {
	Registrar   RegistrarService
	Credentials CredentialService
	Status      StatusService
	Admin       *admin.Service
	Artifacts   ArtifactFetcher
	Throttle    *ratelimit.Middleware
	Metrics     *metrics.Metrics
	Registry    prometheus.Gatherer
	Logger      *slog.Logger
	Health      []HealthCheck
}

// HealthCheck is one dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func() error
}

// NewRouter wires all routes with the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	h := &handler{deps: d}

	r := chi.NewRouter()
	r.Use(request.ID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Recover(d.Logger))
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(h.observe)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(h.throttle(ratelimit.ClassRegister)).
			Post("/register", h.handleRegister)
		r.With(h.throttle(ratelimit.ClassStatus)).
			Get("/status/{identityKey}", h.handleStatus)

		r.Route("/credentials", func(r chi.Router) {
			r.With(h.throttle(ratelimit.ClassIssue)).
				Post("/issue", h.handleIssue)
			r.With(h.throttle(ratelimit.ClassRedeem)).
				Post("/redeem", h.handleRedeem)
			if d.Artifacts != nil {
				r.With(h.throttle(ratelimit.ClassStatus)).
					Get("/{credentialID}/artifact", h.handleArtifact)
			}
		})

		if d.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.With(h.throttle(ratelimit.ClassAdminLogin)).
					Post("/login", h.handleAdminLogin)
				r.With(d.Admin.RequireSession).
					Post("/verify", h.handleVerify)
			})
		}
	})

	r.Get("/healthz", h.handleHealth)
	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) throttle(class ratelimit.EndpointClass) func(http.Handler) http.Handler {
	if h.deps.Throttle == nil {
		return passthrough
	}
	return h.deps.Throttle.Throttle(class)
}

func passthrough(next http.Handler) http.Handler { return next }

// observe records request latency against the chi route pattern, so
// /api/status/{identityKey} stays one series regardless of key.
func (h *handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.deps.Metrics.HTTPRequestSeconds.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
