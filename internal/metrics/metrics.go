package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclient_api_requests_total",
			Help: "Total number of API requests issued",
		},
		[]string{"method", "route", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventclient_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	listFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclient_list_fetches_total",
			Help: "Listing fetch outcomes (applied, stale, error, cache_hit)",
		},
		[]string{"outcome"},
	)

	liveMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclient_live_messages_total",
			Help: "Push notifications received, by kind and whether they were applied",
		},
		[]string{"kind", "result"},
	)

	liveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventclient_live_groups",
			Help: "Number of event groups currently joined",
		},
	)

	uploadRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclient_upload_rejections_total",
			Help: "Uploads rejected by client-side checks",
		},
		[]string{"reason"},
	)
)

// RecordAPIRequest records one API round trip. status is "error" for transport failures.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	apiRequestsTotal.WithLabelValues(method, route, status).Inc()
	apiRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordListFetch(outcome string) {
	listFetchesTotal.WithLabelValues(outcome).Inc()
}

func RecordLiveMessage(kind, result string) {
	liveMessagesTotal.WithLabelValues(kind, result).Inc()
}

func LiveGroupJoined() { liveSubscriptions.Inc() }
func LiveGroupLeft()   { liveSubscriptions.Dec() }

func RecordUploadRejection(reason string) {
	uploadRejectionsTotal.WithLabelValues(reason).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
