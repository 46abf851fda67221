package observability

import (
	"errors"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds the Prometheus metrics of the dues ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry owns these metrics; the /metrics endpoint serves it.
	Registry *prometheus.Registry

	operationDuration     *prometheus.HistogramVec
	installmentsGenerated *prometheus.CounterVec
	collectionsAllocated  prometheus.Counter
	allocatedAmount       prometheus.Counter
	rejections            *prometheus.CounterVec
}

// NewMetrics creates a dedicated registry and registers all metrics in it,
// so tests can build as many as they need.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dues_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		installmentsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dues_installments_generated_total",
				Help: "Installments created by dues generation.",
			},
			[]string{"kind"},
		),
		collectionsAllocated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dues_collections_allocated_total",
				Help: "Collections run through oldest-first allocation.",
			},
		),
		allocatedAmount: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dues_allocated_amount_total",
				Help: "Sum of amounts applied to installments.",
			},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dues_business_rule_rejections_total",
				Help: "Operations refused by a billing rule.",
			},
			[]string{"reason"},
		),
	}
}

// ObserveDuration records how long an operation took.
func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// AddInstallmentsGenerated counts created installments; kind is "merged", "unit" or "split".
func (m *Metrics) AddInstallmentsGenerated(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.installmentsGenerated.WithLabelValues(kind).Add(float64(n))
}

// RecordAllocation counts one allocation run and the amount it applied.
func (m *Metrics) RecordAllocation(applied decimal.Decimal) {
	if m == nil {
		return
	}
	m.collectionsAllocated.Inc()
	m.allocatedAmount.Add(applied.InexactFloat64())
}

// RecordRejection counts err under its rule when it is a business rule violation.
func (m *Metrics) RecordRejection(err error) {
	if m == nil || err == nil {
		return
	}
	if reason := RejectionReason(err); reason != "" {
		m.rejections.WithLabelValues(reason).Inc()
	}
}

// RejectionReason maps a billing rule error to its metric label, or "" for other errors.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidPeriodFormat):
		return "invalid_period"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrUnitNotInGroup):
		return "unit_not_in_group"
	case errors.Is(err, domain.ErrGroupHasNoUnits):
		return "group_has_no_units"
	case errors.Is(err, domain.ErrUnsplittableLegacyInstallment):
		return "unsplittable_legacy"
	case errors.Is(err, domain.ErrPeriodHasAllocatedPayments):
		return "period_has_allocations"
	case errors.Is(err, domain.ErrDuplicateInstallment):
		return "duplicate_installment"
	}
	return ""
}
