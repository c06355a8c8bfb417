package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dual-write and reconciliation collectors. A nil *Metrics records nothing.
type Metrics struct {
	DualWrites      *prometheus.CounterVec
	LedgerConfirm   *prometheus.HistogramVec
	ReconcileRuns   *prometheus.CounterVec
	ReconcileRecord *prometheus.GaugeVec
	ReconcileSkips  *prometheus.CounterVec
	DriftFindings   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DualWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddy",
			Name:      "dual_writes_total",
			Help:      "Dual-write attempts by entity kind, mode and final state.",
		}, []string{"kind", "mode", "state"}),
		LedgerConfirm: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paddy",
			Name:      "ledger_confirm_seconds",
			Help:      "Time from ledger submission to confirmation.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"network"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddy",
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation reads by kind, winning strategy and status.",
		}, []string{"kind", "strategy", "status"}),
		ReconcileRecord: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paddy",
			Name:      "reconcile_records",
			Help:      "Records returned by the last reconciliation read.",
		}, []string{"kind"}),
		ReconcileSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddy",
			Name:      "reconcile_skipped_total",
			Help:      "Ids dropped because the point lookup failed.",
		}, []string{"kind"}),
		DriftFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddy",
			Name:      "drift_findings_total",
			Help:      "Drift report rows written by check type.",
		}, []string{"check"}),
	}
	if reg != nil {
		reg.MustRegister(m.DualWrites, m.LedgerConfirm, m.ReconcileRuns, m.ReconcileRecord, m.ReconcileSkips, m.DriftFindings)
	}
	return m
}

func (m *Metrics) dualWrite(kind, mode, state string) {
	if m == nil {
		return
	}
	m.DualWrites.WithLabelValues(kind, mode, state).Inc()
}

func (m *Metrics) confirmed(network string, since time.Time) {
	if m == nil {
		return
	}
	m.LedgerConfirm.WithLabelValues(network).Observe(time.Since(since).Seconds())
}

func (m *Metrics) reconciled(kind, strategy, status string, records, skipped int) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(kind, strategy, status).Inc()
	m.ReconcileRecord.WithLabelValues(kind).Set(float64(records))
	if skipped > 0 {
		m.ReconcileSkips.WithLabelValues(kind).Add(float64(skipped))
	}
}

func (m *Metrics) drift(check string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DriftFindings.WithLabelValues(check).Add(float64(n))
}
