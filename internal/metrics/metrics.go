// Package metrics provides Prometheus metrics for the dgramfs server and client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgramfs_requests_total",
			Help: "Requests handled by the server, by operation and outcome",
		},
		[]string{"op", "result"},
	)

	replaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dgramfs_replayed_responses_total",
			Help: "Duplicate requests answered from the response cache",
		},
	)

	malformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dgramfs_malformed_requests_total",
			Help: "Datagrams that could not be decoded as a request",
		},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgramfs_simulated_drops_total",
			Help: "Datagrams deliberately not sent to simulate packet loss",
		},
		[]string{"side"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgramfs_notifications_total",
			Help: "Update notifications pushed to monitoring clients",
		},
		[]string{"result"},
	)

	historyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgramfs_request_history_entries",
			Help: "Request IDs currently remembered for duplicate suppression",
		},
	)

	clientRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dgramfs_client_retries_total",
			Help: "Requests resent by the client after a timeout",
		},
	)

	clientCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgramfs_client_cache_lookups_total",
			Help: "Client cache lookups, by hit or miss",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRequest(op string, ok bool) {
	requestsTotal.WithLabelValues(op, result(ok)).Inc()
}

func RecordReplay() {
	replaysTotal.Inc()
}

func RecordMalformed() {
	malformedTotal.Inc()
}

// RecordDrop counts a simulated loss on side ("server" or "client").
func RecordDrop(side string) {
	droppedTotal.WithLabelValues(side).Inc()
}

func RecordNotification(ok bool) {
	notificationsTotal.WithLabelValues(result(ok)).Inc()
}

func SetHistoryEntries(n int) {
	historyEntries.Set(float64(n))
}

func RecordClientRetry() {
	clientRetriesTotal.Inc()
}

func RecordCacheLookup(hit bool) {
	if hit {
		clientCacheTotal.WithLabelValues("hit").Inc()
		return
	}

	clientCacheTotal.WithLabelValues("miss").Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}

	return "error"
}
