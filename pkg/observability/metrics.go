package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the backend.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthAttemptsTotal    *prometheus.CounterVec
	SessionsCreatedTotal prometheus.Counter

	OrganizationsCreatedTotal prometheus.Counter
	OrganizationsDeletedTotal prometheus.Counter
	MembershipChangesTotal    *prometheus.CounterVec

	InvitationTransitionsTotal *prometheus.CounterVec
	EmailsSentTotal            *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unuxt_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unuxt_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		AuthAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unuxt_auth_attempts_total",
			Help: "Authentication attempts by method (password, magic_link, oauth) and outcome",
		}, []string{"method", "outcome"}),

		SessionsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "unuxt_sessions_created_total",
			Help: "Sessions created",
		}),

		OrganizationsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "unuxt_organizations_created_total",
			Help: "Organizations created",
		}),

		OrganizationsDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "unuxt_organizations_deleted_total",
			Help: "Organizations deleted, including last-owner-removal cascades",
		}),

		MembershipChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unuxt_membership_changes_total",
			Help: "Membership mutations by operation (add, update_role, remove)",
		}, []string{"operation"}),

		InvitationTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unuxt_invitation_transitions_total",
			Help: "Invitation status transitions by target status (pending, accepted, expired, canceled)",
		}, []string{"status"}),

		EmailsSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unuxt_emails_sent_total",
			Help: "Emails sent by template and outcome",
		}, []string{"template", "outcome"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps an HTTP handler with request count and latency
// metrics under the given route label.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
