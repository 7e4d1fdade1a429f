package web

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmail_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)
	metricDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webmail_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)
	metricAccounts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmail_accounts_created_total",
			Help: "Account creation results, known values: ok, exists, error.",
		},
		[]string{"result"},
	)
)

func observe(route string, code int, d time.Duration) {
	metricRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	metricDuration.WithLabelValues(route).Observe(d.Seconds())
}
