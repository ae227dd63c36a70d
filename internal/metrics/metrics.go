// Package metrics exposes Prometheus collectors for strategy searches and margin.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eddiefleurent/strategy_matcher/internal/margin"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
)

const namespace = "strategy_matcher"

// Metrics holds the matcher's Prometheus collectors on a private registry.
// It implements matcher.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Searches       *prometheus.CounterVec // labels: outcome
	SearchDuration prometheus.Histogram
	Positions      prometheus.Gauge
	Instances      *prometheus.GaugeVec // labels: template
	Residuals      *prometheus.GaugeVec // labels: label
	MarginTotal    prometheus.Gauge
	FillsApplied   *prometheus.CounterVec // labels: outcome
}

// New registers and returns all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Strategy searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Wall time of one strategy search",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		Positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "positions",
			Help:      "Positions in the most recent searched inventory",
		}),
		Instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_instances",
			Help:      "Matched strategy quantity in the most recent search, by template",
		}, []string{"template"}),
		Residuals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "residual_legs",
			Help:      "Residual legs in the most recent search, by naked label",
		}, []string{"label"}),
		MarginTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "margin_requirement",
			Help:      "Total margin requirement of the most recent match",
		}),
		FillsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills processed by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.Searches, m.SearchDuration, m.Positions, m.Instances,
		m.Residuals, m.MarginTotal, m.FillsApplied,
	)
	return m
}

// ObserveSearch implements matcher.Observer.
func (m *Metrics) ObserveSearch(elapsed time.Duration, positions int, result *matcher.Result, err error) {
	m.SearchDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.Searches.WithLabelValues("error").Inc()
		return
	}
	m.Searches.WithLabelValues("ok").Inc()
	m.Positions.Set(float64(positions))

	m.Instances.Reset()
	for _, inst := range result.Instances {
		m.Instances.WithLabelValues(inst.Template).Add(float64(inst.Quantity))
	}
	m.Residuals.Reset()
	for _, r := range result.Residuals {
		label := r.Label
		if label == "" {
			label = "none"
		}
		m.Residuals.WithLabelValues(label).Inc()
	}
}

// ObserveMargin records the latest total requirement.
func (m *Metrics) ObserveMargin(req *margin.Requirement) {
	if req == nil {
		return
	}
	m.MarginTotal.Set(req.Total.InexactFloat64())
}

// ObserveFill counts a processed fill.
func (m *Metrics) ObserveFill(err error) {
	if err != nil {
		m.FillsApplied.WithLabelValues("error").Inc()
		return
	}
	m.FillsApplied.WithLabelValues("ok").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
