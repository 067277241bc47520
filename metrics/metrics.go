/*
Package metrics holds the Prometheus collectors for the ledger service.

PURPOSE:
  Collectors are package-level and registered on the default registry
  through promauto, so any package can record without plumbing. The HTTP
  server exposes them on /metrics with promhttp.

COLLECTORS:
  merit_grant_operations_total{kind,operation,outcome}
  merit_redemptions_total{kind,outcome}
  merit_redeemed_units_total{kind}
  merit_balance_refresh_seconds{kind}
  merit_http_requests_total{route,method,status}
  merit_events_published_total{type,outcome}

  outcome is "ok" or an error code (validation, forbidden, ...).

SEE ALSO:
  - ledger/workflow.go, ledger/redeem.go, ledger/balance.go: Recorders
  - api/server.go: /metrics endpoint
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels a successful operation.
const OutcomeOK = "ok"

// UnknownKind labels operations addressed to an unregistered ledger kind.
const UnknownKind = "unknown"

// ═══════════════════════════════════════════════════════════════════════════
// Ledger
// ═══════════════════════════════════════════════════════════════════════════

var GrantOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merit_grant_operations_total",
	Help: "Grant operations by kind, operation and outcome.",
}, []string{"kind", "operation", "outcome"})

var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merit_redemptions_total",
	Help: "Redemption attempts by kind and outcome.",
}, []string{"kind", "outcome"})

var RedeemedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merit_redeemed_units_total",
	Help: "Sum of redeemed values (points or minutes) by kind.",
}, []string{"kind"})

var BalanceRefresh = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "merit_balance_refresh_seconds",
	Help:    "Time spent recomputing and persisting a cached balance.",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
}, []string{"kind"})

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merit_events_published_total",
	Help: "Ledger events handed to the publisher, by type and outcome.",
}, []string{"type", "outcome"})

// ObserveRefresh records the duration of one cache refresh.
func ObserveRefresh(kind string, start time.Time) {
	BalanceRefresh.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ═══════════════════════════════════════════════════════════════════════════
// HTTP
// ═══════════════════════════════════════════════════════════════════════════

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "merit_http_requests_total",
	Help: "HTTP requests by route pattern, method and status.",
}, []string{"route", "method", "status"})

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
