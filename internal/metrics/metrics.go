// Package metrics exposes pipeline counters on a Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's instrumentation. A nil *Metrics is valid
// and records nothing, so tests can pass nil freely.
type Metrics struct {
	FetchRequests    *prometheus.CounterVec
	BudgetDenied     prometheus.Counter
	RecordsStored    prometheus.Counter
	RecordsProcessed prometheus.Counter
	ParseOutcomes    *prometheus.CounterVec
	Conflicts        prometheus.Counter
	LastCycleUnix    prometheus.Gauge

	registry *prometheus.Registry
}

// New builds and registers the metric set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concerttracker_fetch_requests_total",
			Help: "External fetch attempts by result.",
		}, []string{"result"}),
		BudgetDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concerttracker_budget_denied_total",
			Help: "Rate limiter denials.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concerttracker_records_stored_total",
			Help: "New source records persisted.",
		}),
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concerttracker_records_processed_total",
			Help: "Source records run through extraction and reconciliation.",
		}),
		ParseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concerttracker_parse_outcomes_total",
			Help: "Extraction diagnostic reason codes.",
		}, []string{"reason"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concerttracker_reconcile_conflicts_total",
			Help: "Reconciliation conflicts recorded for review.",
		}),
		LastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "concerttracker_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed ingestion cycle.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FetchRequests,
		m.BudgetDenied,
		m.RecordsStored,
		m.RecordsProcessed,
		m.ParseOutcomes,
		m.Conflicts,
		m.LastCycleUnix,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// CountFetch records one fetch outcome ("ok" or "error").
func (m *Metrics) CountFetch(result string) {
	if m != nil {
		m.FetchRequests.WithLabelValues(result).Inc()
	}
}

// CountBudgetDenied records one limiter denial.
func (m *Metrics) CountBudgetDenied() {
	if m != nil {
		m.BudgetDenied.Inc()
	}
}

// CountStored records n newly persisted records.
func (m *Metrics) CountStored(n int) {
	if m != nil && n > 0 {
		m.RecordsStored.Add(float64(n))
	}
}

// CountProcessed records one reconciled record.
func (m *Metrics) CountProcessed() {
	if m != nil {
		m.RecordsProcessed.Inc()
	}
}

// CountParseReasons records extraction diagnostic codes.
func (m *Metrics) CountParseReasons(reasons []string) {
	if m == nil {
		return
	}
	for _, r := range reasons {
		m.ParseOutcomes.WithLabelValues(r).Inc()
	}
}

// CountConflicts records reconciliation conflicts.
func (m *Metrics) CountConflicts(n int) {
	if m != nil && n > 0 {
		m.Conflicts.Add(float64(n))
	}
}

// SetLastCycle stamps the completion time of a cycle.
func (m *Metrics) SetLastCycle(unix int64) {
	if m != nil {
		m.LastCycleUnix.Set(float64(unix))
	}
}
