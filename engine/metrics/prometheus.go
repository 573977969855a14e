package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dogworld"

func (s *Sink) counterFunc(name, help string, v *uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(atomic.LoadUint64(v))
	})
}

func (s *Sink) register() {
	s.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_latency_seconds",
		Help:      "Client command handling latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	s.registry.MustRegister(
		s.counterFunc("requests_total", "Client commands received", &s.requests),
		s.counterFunc("dogs_created_total", "Dogs minted", &s.created),
		s.counterFunc("dogs_merged_total", "Dogs produced by merges", &s.merged),
		s.counterFunc("dogs_prestiged_total", "Prestige resets", &s.prestiged),
		s.counterFunc("batches_submitted_total", "Batches accepted by the settlement client", &s.submitted),
		s.counterFunc("settlement_failures_total", "Batches the settlement client rejected", &s.failures),
		s.counterFunc("anti_cheat_blocks_total", "Actions denied by the anti-automation engine", &s.blocks),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU percent of the game process, sampled periodically",
		}, s.CPUPercent),
		s.latency,
	)
}

// Registry returns the prometheus registry holding the sink's collectors
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the prometheus text format
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
