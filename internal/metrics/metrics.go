// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanban_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kanban_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// OrderingConflicts counts sibling key collisions that forced a re-key.
	OrderingConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanban_ordering_conflicts_total",
			Help: "Ordering key collisions resolved by recomputing the key",
		},
		[]string{"entity"},
	)

	// AuthorizationDenials counts requests rejected by the authorization gate.
	AuthorizationDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanban_authorization_denials_total",
			Help: "Actions denied by the authorization gate",
		},
		[]string{"action"},
	)

	// SearchRequests counts searches by the backend that answered them.
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanban_search_requests_total",
			Help: "Search requests by answering backend",
		},
		[]string{"backend"},
	)

	SearchIndexDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kanban_search_index_dropped_total",
			Help: "Index updates dropped because the queue was full",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe records one finished request. Chi's route pattern is used as the
// label when available so path parameters do not explode cardinality.
func Observe(r *http.Request, status int, started time.Time) {
	route := "unmatched"
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}
	httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
}
