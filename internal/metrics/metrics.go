package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

// Recorder owns a private registry so tests and multiple servers do not collide.
type Recorder struct {
	registry *prometheus.Registry

	ExchangeCalls    *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ExchangeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exdash_exchange_calls_total",
				Help: "Outbound exchange calls by exchange and outcome",
			},
			[]string{"exchange", "kind"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exdash_exchange_call_duration_seconds",
				Help:    "Outbound exchange call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"exchange"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exdash_cache_lookups_total",
				Help: "Public market-data cache lookups by result",
			},
			[]string{"exchange", "result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exdash_http_requests_total",
				Help: "Dashboard API requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exdash_http_request_duration_seconds",
				Help:    "Dashboard API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	r.registry.MustRegister(
		r.ExchangeCalls,
		r.ExchangeDuration,
		r.CacheLookups,
		r.HTTPRequests,
		r.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var _ exchange.Observer = (*Recorder)(nil)

func (r *Recorder) ObserveCall(id core.ExchangeID, kind exchange.Kind, elapsed time.Duration) {
	r.ExchangeCalls.WithLabelValues(string(id), string(kind)).Inc()
	r.ExchangeDuration.WithLabelValues(string(id)).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveCache(id core.ExchangeID, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(string(id), result).Inc()
}

func (r *Recorder) ObserveRequest(route string, status int, elapsed time.Duration) {
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
