// Package metrics exposes Prometheus collectors for the marketmaster client.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal           *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	apiRateLimitDelaysSeconds  *prometheus.HistogramVec
	channelDialsTotal          *prometheus.CounterVec
	channelMessagesTotal       *prometheus.CounterVec
	savedItems                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketmaster_api_requests_total",
				Help: "Backend API calls, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketmaster_api_request_duration_seconds",
				Help:    "Backend API latency, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		apiRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketmaster_api_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
		)

		channelDialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketmaster_channel_dials_total",
				Help: "Notification channel dial attempts, labeled by result.",
			},
			[]string{"result"},
		)

		channelMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketmaster_channel_messages_total",
				Help: "Frames read from the notification channel, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		savedItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketmaster_saved_items",
				Help: "Products currently held in the local saved list.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest records one backend call. code 0 means a transport error.
func ObserveAPIRequest(endpoint string, code int, duration time.Duration) {
	Init()
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	apiRequestsTotal.WithLabelValues(endpoint, label).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(endpoint string, duration time.Duration) {
	Init()
	apiRateLimitDelaysSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveChannelDial records a notification channel dial outcome.
func ObserveChannelDial(ok bool) {
	Init()
	result := "success"
	if !ok {
		result = "failure"
	}
	channelDialsTotal.WithLabelValues(result).Inc()
}

// ObserveChannelMessage records whether a pushed frame decoded.
func ObserveChannelMessage(ok bool) {
	Init()
	outcome := "delivered"
	if !ok {
		outcome = "malformed"
	}
	channelMessagesTotal.WithLabelValues(outcome).Inc()
}

// SetSavedItems publishes the saved list size.
func SetSavedItems(n int) {
	Init()
	savedItems.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
