package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/featuregate/pkg/db"
)

const (
	LedgerOperationDebit   = "debit"
	LedgerOperationGrant   = "grant"
	LedgerOperationRecord  = "record_usage"
	LedgerOperationAdjust  = "threshold"
	LedgerOutcomeCommitted = "committed"
	LedgerOutcomeRejected  = "insufficient_credits"
	LedgerOutcomeFailed    = "failed"
)

// LedgerMetrics tracks credit ledger unit-of-work health.
type LedgerMetrics struct {
	unitOfWork     *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	dbErrors       *prometheus.CounterVec
	creditsDebited prometheus.Counter
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the singleton ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// ResetLedgerMetricsForTest resets the ledger metrics singleton for tests.
func ResetLedgerMetricsForTest() {
	ledgerMetricsOnce = sync.Once{}
	ledgerMetrics = nil
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "featuregate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	unitOfWork := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "featuregate_ledger_unit_of_work_seconds",
		Help:        "Latency of ledger transactions by operation.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "featuregate_ledger_outcomes_total",
		Help:        "Ledger transactions by operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})
	dbErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "featuregate_ledger_db_errors_total",
		Help:        "Ledger database errors by low-cardinality class.",
		ConstLabels: constLabels,
	}, []string{"operation", "class"})
	creditsDebited := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "featuregate_ledger_credits_debited_total",
		Help:        "Credits removed from tenant balances by usage.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(unitOfWork, outcomes, dbErrors, creditsDebited)

	return &LedgerMetrics{
		unitOfWork:     unitOfWork,
		outcomes:       outcomes,
		dbErrors:       dbErrors,
		creditsDebited: creditsDebited,
	}
}

// ObserveUnitOfWork records latency and the outcome of one ledger transaction.
func (m *LedgerMetrics) ObserveUnitOfWork(operation string, duration time.Duration, outcome string, err error) {
	if m == nil {
		return
	}
	m.unitOfWork.WithLabelValues(operation).Observe(duration.Seconds())
	m.outcomes.WithLabelValues(operation, outcome).Inc()
	if err == nil {
		return
	}
	m.dbErrors.WithLabelValues(operation, ClassifyLedgerError(err)).Inc()
}

// AddCreditsDebited adds committed debits.
func (m *LedgerMetrics) AddCreditsDebited(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsDebited.Add(float64(credits))
}

// ClassifyLedgerError maps an error to a bounded label value.
func ClassifyLedgerError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return db.ErrorClass(err)
}
