package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every collector the core exposes as struct fields, each
// constructed once by NewMetrics.
type Metrics struct {
	TopologyActionsTotal   *prometheus.CounterVec
	TopologyActionDuration *prometheus.HistogramVec
	ReaperStepsTotal       *prometheus.CounterVec
	ReaperSweepDuration    prometheus.Histogram
	UsageSamplesTotal      prometheus.Counter
	UsageSampleErrorsTotal prometheus.Counter
	HTTPRequestDuration    *prometheus.HistogramVec
}

// NewMetrics constructs every collector under the "tomato" namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		TopologyActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tomato",
			Name:      "topology_actions_total",
			Help:      "Total compound actions invoked on topologies, by action and outcome.",
		}, []string{"action", "outcome"}),
		TopologyActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tomato",
			Name:      "topology_action_duration_seconds",
			Help:      "Duration of compound actions invoked on topologies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		ReaperStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tomato",
			Name:      "reaper_steps_total",
			Help:      "Total timeout escalation steps applied, by resulting step.",
		}, []string{"step"}),
		ReaperSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tomato",
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of a full reaper sweep across all three passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		UsageSamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tomato",
			Name:      "usage_samples_total",
			Help:      "Total accounting samples successfully recorded.",
		}),
		UsageSampleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tomato",
			Name:      "usage_sample_errors_total",
			Help:      "Total accounting samples that failed.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tomato",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// All returns every collector, for registration.
func (m *Metrics) All() []prometheus.Collector {
	return []prometheus.Collector{
		m.TopologyActionsTotal,
		m.TopologyActionDuration,
		m.ReaperStepsTotal,
		m.ReaperSweepDuration,
		m.UsageSamplesTotal,
		m.UsageSampleErrorsTotal,
		m.HTTPRequestDuration,
	}
}

// NewRegistry builds a Prometheus registry carrying the Go/process
// collectors plus every collector in extra.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
