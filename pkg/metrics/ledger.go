package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK         = "ok"
	OutcomeDenied     = "denied"
	OutcomeInvalid    = "invalid"
	OutcomeNotFound   = "not_found"
	OutcomeContention = "contention"
	OutcomeCanceled   = "canceled"
	OutcomeError      = "error"
)

// LedgerMetrics covers the per-account unit of work and the service operations on top of it.
type LedgerMetrics struct {
	opDuration *prometheus.HistogramVec
	lockWait   prometheus.Histogram
	contention *prometheus.CounterVec
	retries    *prometheus.CounterVec
	mismatch   prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on reg. A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger service operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_lock_wait_seconds",
			Help:    "Time spent waiting for the per-account lock.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_contention_total",
			Help: "Operations that gave up after exhausting lock or retry budgets.",
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_tx_retries_total",
			Help: "Units of work retried after a transient storage failure.",
		}, []string{"op"}),
		mismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reconcile_mismatch_total",
			Help: "Reconciliations where the cached balance differed from history.",
		}),
	}
	reg.MustRegister(m.opDuration, m.lockWait, m.contention, m.retries, m.mismatch)
	return m
}

// ObserveOperation records how long op took and how it ended.
func (m *LedgerMetrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil || m.opDuration == nil {
		return
	}
	m.opDuration.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Observe(d.Seconds())
}

// ObserveLockWait records time spent blocked on an account lock.
func (m *LedgerMetrics) ObserveLockWait(d time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// IncContention counts an operation that surfaced a contention error.
func (m *LedgerMetrics) IncContention(op string) {
	if m == nil || m.contention == nil {
		return
	}
	m.contention.WithLabelValues(normalizeLabel(op)).Inc()
}

// IncRetry counts a transient failure that triggered another attempt.
func (m *LedgerMetrics) IncRetry(op string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(op)).Inc()
}

// IncReconcileMismatch counts a detected drift.
func (m *LedgerMetrics) IncReconcileMismatch() {
	if m == nil || m.mismatch == nil {
		return
	}
	m.mismatch.Inc()
}
