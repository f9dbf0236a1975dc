package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifySchedulerError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("job: %w", context.DeadlineExceeded), want: SchedulerJobReasonDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: SchedulerJobReasonCanceled},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: "deadlock"},
		{name: "other", err: errors.New("boom"), want: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "featuregate", Environment: "test"})

	m.IncJobRun("outbox_prune")
	m.IncJobRun("outbox_prune")
	m.IncJobError("outbox_prune", context.DeadlineExceeded)
	m.IncJobError("outbox_prune", nil)
	m.AddBatchProcessed("outbox_prune", 12)
	m.AddBatchProcessed("outbox_prune", 0)
	m.ObserveJobDuration("outbox_prune", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("outbox_prune")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("outbox_prune", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("outbox_prune")); got != 12 {
		t.Fatalf("expected 12 processed, got %v", got)
	}
}

func TestSchedulerMetricsNilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("x")
	m.IncJobTimeout("x")
	m.IncJobError("x", errors.New("boom"))
	m.AddBatchProcessed("x", 3)
	m.ObserveJobDuration("x", time.Second)
	m.ObserveRunLoopLag(time.Second)
}
