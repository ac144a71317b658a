package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metrolog"

// Allocation outcomes.
const (
	OutcomeAssigned  = "assigned"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Candidate rejection reasons.
const (
	RejectEquipment = "equipment"
	RejectQuota     = "quota"
)

// AllocationMetrics records verifier allocation and quota ledger activity.
// Values are recorded as the work is applied inside the request transaction,
// so they count attempts and include work later rolled back.
// A nil *AllocationMetrics is valid and records nothing.
type AllocationMetrics struct {
	duration   prometheus.Histogram
	outcomes   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	ledger     *prometheus.CounterVec
}

// NewAllocationMetrics registers the allocation metrics on the provided registerer.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "allocation_duration_seconds",
		Help:      "Time spent choosing a verifier for a new verification entry.",
		Buckets:   prometheus.DefBuckets,
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "allocations_total",
		Help:      "Verifier allocation attempts by outcome and the pool that produced the verifier, including ones whose transaction later rolled back.",
	}, []string{"outcome", "pool"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "allocation_candidate_rejections_total",
		Help:      "Candidates skipped during allocation by pool and reason.",
	}, []string{"pool", "reason"})
	ledger := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_ledger_units_total",
		Help:      "Quota units applied to verifier ledger rows inside a transaction, by direction. Includes units of transactions that later rolled back.",
	}, []string{"direction"})
	reg.MustRegister(duration, outcomes, rejections, ledger)
	return &AllocationMetrics{
		duration:   duration,
		outcomes:   outcomes,
		rejections: rejections,
		ledger:     ledger,
	}
}

// ObserveAllocation records one finished allocation.
func (m *AllocationMetrics) ObserveAllocation(outcome, pool string, took time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome), normalizeLabel(pool)).Inc()
	m.duration.Observe(took.Seconds())
}

// IncRejection counts a candidate skipped inside pool.
func (m *AllocationMetrics) IncRejection(pool, reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(pool), normalizeLabel(reason)).Inc()
}

// AddLedgerDelta records a signed change applied to a ledger row.
func (m *AllocationMetrics) AddLedgerDelta(delta int) {
	if m == nil || m.ledger == nil || delta == 0 {
		return
	}
	if delta < 0 {
		m.ledger.WithLabelValues("debit").Add(float64(-delta))
		return
	}
	m.ledger.WithLabelValues("credit").Add(float64(delta))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
