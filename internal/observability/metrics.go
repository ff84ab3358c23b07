package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/validation-portal/oidc"
)

// Callback outcomes recorded by Metrics.CallbackOutcome
const (
	OutcomeSuccess       = "success"
	OutcomeStateMismatch = "state_mismatch"
	OutcomeExchange      = "exchange_failed"
	OutcomeToken         = "token_invalid"
	OutcomeIdentity      = "identity_missing"
	OutcomePersistence   = "persistence_failed"
	OutcomeSession       = "session_failed"
)

// Metrics holds the portal's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	logins        prometheus.Counter
	callbacks     *prometheus.CounterVec
	jwksFetches   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_logins_total",
			Help: "Total number of login flows started",
		}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_callbacks_total",
			Help: "Total number of authorization callbacks by outcome",
		}, []string{"outcome"}),
		jwksFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_jwks_fetches_total",
			Help: "Total number of JWKS fetches by result",
		}, []string{"result"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_token_verifications_total",
			Help: "Total number of token verifications by result",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LoginStarted counts a login redirect
func (m *Metrics) LoginStarted() {
	m.logins.Inc()
}

// CallbackOutcome counts a finished callback
func (m *Metrics) CallbackOutcome(outcome string) {
	m.callbacks.WithLabelValues(outcome).Inc()
}

// JWKSFetched counts a key set fetch; it matches the key store's OnFetch hook
func (m *Metrics) JWKSFetched(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jwksFetches.WithLabelValues(result).Inc()
}

// TokenVerified counts a verification by the failure kind of err
func (m *Metrics) TokenVerified(err error) {
	result := "ok"
	if err != nil {
		result = oidc.ErrorKind(err)
		if result == "" {
			result = "error"
		}
	}
	m.verifications.WithLabelValues(result).Inc()
}

// unmatchedPath labels requests no route matched, keeping label cardinality fixed
const unmatchedPath = "unmatched"

// Middleware records request counts and latency by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		path := unmatchedPath
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
