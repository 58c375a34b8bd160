// Package metrics exposes migration counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ipam_migrator"

// Collector is a prometheus.Collector for one migration process. A nil
// *Collector records nothing.
type Collector struct {
	records        *prometheus.CounterVec
	retries        *prometheus.CounterVec
	createDuration *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "records_total",
				Help:      "Source records processed, by entity type and outcome.",
			}, []string{"kind", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "Target API calls retried after a transient failure.",
			}, []string{"kind", "op"},
		),
		createDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "create_duration_seconds",
				Help:      "Time spent in successful create calls, retries and pacing included.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			}, []string{"kind"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.records.Describe(ch)
	c.retries.Describe(ch)
	c.createDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.records.Collect(ch)
	c.retries.Collect(ch)
	c.createDuration.Collect(ch)
}

// Record counts one migration outcome.
func (c *Collector) Record(kind, outcome string) {
	if c == nil {
		return
	}
	c.records.WithLabelValues(kind, outcome).Inc()
}

// Retry counts one retried call.
func (c *Collector) Retry(kind, op string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(kind, op).Inc()
}

// ObserveCreate records how long a successful create took.
func (c *Collector) ObserveCreate(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.createDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Handler serves c, plus the Go runtime collectors, on a private registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
