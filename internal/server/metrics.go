package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ggonzalez94/vault-gateway/internal/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gateway"

// Metrics owns a private registry so tests can build several servers.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	txnOutcomes    *prometheus.CounterVec
	txnDurations   *prometheus.HistogramVec
	bindingLookups *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by the gateway.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		txnOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "txn_outcomes_total",
			Help:      "Terminal states reached by submitted transactions.",
		}, []string{"entrypoint", "status"}),
		txnDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "txn_confirmation_seconds",
			Help:      "Time from submission to a terminal state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"entrypoint"}),
		bindingLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "binding_lookups_total",
			Help:      "Remote vault interface lookups by source and result.",
		}, []string{"source", "result"}),
	}
	registry.MustRegister(m.requests, m.durations, m.txnOutcomes, m.txnDurations, m.bindingLookups)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTxn is a txn.Observer. Only terminal transitions are counted.
func (m *Metrics) ObserveTxn(p txn.Pending) {
	if !p.Status.Terminal() {
		return
	}
	m.txnOutcomes.WithLabelValues(p.Entrypoint, string(p.Status)).Inc()
	if !p.SubmittedAt.IsZero() {
		m.txnDurations.WithLabelValues(p.Entrypoint).Observe(time.Since(p.SubmittedAt).Seconds())
	}
}

// ObserveLookup matches binding.Options.OnLookup.
func (m *Metrics) ObserveLookup(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.bindingLookups.WithLabelValues(source, result).Inc()
}

func (m *Metrics) observeRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
