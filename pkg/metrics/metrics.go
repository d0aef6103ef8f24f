package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deep_research"

// Research path labels
const (
	PathDeep   = "deep"
	PathScrape = "scrape"
	PathError  = "error"
)

// Metrics holds the research pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	PathTotal     *prometheus.CounterVec
	EngineErrors  *prometheus.CounterVec
	ActivityTotal *prometheus.CounterVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed pipeline runs by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of pipeline runs",
				Buckets:   []float64{5, 15, 30, 60, 120, 240, 360, 600},
			},
			[]string{"provider", "mode"},
		),
		PathTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "research_path_total",
				Help:      "Research tool invocations by path taken",
			},
			[]string{"path"},
		),
		EngineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrape_engine_errors_total",
				Help:      "Failed search engine requests in the scraping fallback",
			},
			[]string{"engine"},
		),
		ActivityTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hosted_activities_total",
				Help:      "Activity events streamed by the hosted research service",
			},
			[]string{"type"},
		),
	}
}

// ObserveRun records one finished pipeline run.
func (m *Metrics) ObserveRun(provider, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RunsTotal.WithLabelValues(provider, outcome).Inc()
	m.RunDuration.WithLabelValues(provider, mode).Observe(d.Seconds())
}

// ObservePath counts a research tool invocation.
func (m *Metrics) ObservePath(path string) {
	if m == nil {
		return
	}
	m.PathTotal.WithLabelValues(path).Inc()
}

// ObserveEngineError counts a failed scrape request.
func (m *Metrics) ObserveEngineError(engine string) {
	if m == nil {
		return
	}
	m.EngineErrors.WithLabelValues(engine).Inc()
}

// ObserveActivity counts a streamed hosted-service activity.
func (m *Metrics) ObserveActivity(activityType string) {
	if m == nil {
		return
	}
	m.ActivityTotal.WithLabelValues(activityType).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
