package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	auditrepo "github.com/smallbiznis/featuregate/internal/audit/repository"
	auditservice "github.com/smallbiznis/featuregate/internal/audit/service"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/events"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/smallbiznis/featuregate/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const chatOK = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "featuregate",
		Environment: "test",
	})

	s := &Scheduler{log: zap.NewNop(), genID: testutil.Node(t), clock: clock.NewFakeClock(time.Time{})}
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "featuregate",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "featuregate_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "featuregate",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "featuregate_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	s := &Scheduler{log: zap.NewNop(), genID: testutil.Node(t), clock: clock.NewFakeClock(time.Time{})}
	boom := errors.New("boom")
	err := s.runJob(context.Background(), "failing_job", 1, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{}
	assert.True(t, s.isJobEnabled(JobOutboxPrune), "empty list enables all jobs")

	s.cfg.EnabledJobs = []string{" Provider_Health "}
	assert.True(t, s.isJobEnabled(JobProviderHealth))
	assert.False(t, s.isJobEnabled(JobOutboxPrune))
}

type schedulerFixture struct {
	*stack.Stack
	sched      *Scheduler
	providerID string
	healthy    *atomic.Bool
}

func newSchedulerFixture(t *testing.T, cfg Config) *schedulerFixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))

	healthy := &atomic.Bool{}
	healthy.Store(true)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
			return
		}
		_, _ = w.Write([]byte(chatOK))
	}))
	t.Cleanup(upstream.Close)

	s := stack.New(t)
	providerID := s.SeedProvider(t, providerdomain.ProviderTypeChatCompletion, upstream.URL)

	audit := auditservice.NewService(auditservice.Params{
		DB:    s.DB,
		Log:   zap.NewNop(),
		GenID: s.Node,
		Clock: s.Clock,
		Repo:  auditrepo.Provide(),
	})
	sched, err := New(Params{
		Log:       zap.NewNop(),
		GenID:     s.Node,
		Clock:     s.Clock,
		Providers: s.Providers,
		Outbox:    s.Outbox,
		AuditSvc:  audit,
		Config:    cfg,
	})
	require.NoError(t, err)

	return &schedulerFixture{Stack: s, sched: sched, providerID: providerID.String(), healthy: healthy}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProviderHealthJobTracksUpstream(t *testing.T) {
	f := newSchedulerFixture(t, Config{})
	ctx := context.Background()

	f.healthy.Store(false)
	require.NoError(t, f.sched.ProviderHealthJob(ctx))

	got, err := f.Providers.Get(ctx, f.providerID)
	require.NoError(t, err)
	assert.Equal(t, providerdomain.StatusError, got.Status)

	var row struct {
		ActorType string
		ActorID   string
	}
	require.NoError(t, f.DB.Raw(
		`SELECT actor_type, actor_id FROM audit_logs WHERE action = ? AND target_id = ?`,
		"provider.health_changed", f.providerID,
	).Scan(&row).Error)
	assert.Equal(t, "system", row.ActorType)
	assert.Equal(t, "scheduler", row.ActorID)

	f.healthy.Store(true)
	require.NoError(t, f.sched.ProviderHealthJob(ctx))

	got, err = f.Providers.Get(ctx, f.providerID)
	require.NoError(t, err)
	assert.Equal(t, providerdomain.StatusActive, got.Status)
}

func TestProviderHealthJobSkipsInactiveProviders(t *testing.T) {
	f := newSchedulerFixture(t, Config{})
	ctx := context.Background()

	inactive := providerdomain.StatusInactive
	_, err := f.Providers.Update(ctx, providerdomain.UpdateRequest{ID: f.providerID, Status: &inactive})
	require.NoError(t, err)

	f.healthy.Store(false)
	require.NoError(t, f.sched.ProviderHealthJob(ctx))

	got, err := f.Providers.Get(ctx, f.providerID)
	require.NoError(t, err)
	assert.Equal(t, providerdomain.StatusInactive, got.Status)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Enabled() bool { return true }

func (m *mockSink) PublishEvents(ctx context.Context, batch []events.StoredEvent) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func seedEvents(t *testing.T, outbox *events.Outbox, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, outbox.Publish(context.Background(), events.Event{
			TenantID: 5,
			Type:     events.EventCreditsDebited,
			Payload:  map[string]any{"amount": i + 1},
		}))
	}
}

func TestOutboxRelayJobPublishesInBatches(t *testing.T) {
	f := newSchedulerFixture(t, Config{BatchSize: 2})
	sink := &mockSink{}
	var sizes []int
	sink.On("PublishEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sizes = append(sizes, len(args.Get(1).([]events.StoredEvent)))
		}).
		Return(nil)
	f.sched.sink = sink
	seedEvents(t, f.Outbox, 5)

	require.NoError(t, f.sched.OutboxRelayJob(context.Background()))

	sink.AssertNumberOfCalls(t, "PublishEvents", 3)
	assert.Equal(t, []int{2, 2, 1}, sizes)

	pending, err := f.Outbox.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRelayJobKeepsEventsOnFailure(t *testing.T) {
	f := newSchedulerFixture(t, Config{})
	sink := &mockSink{}
	sink.On("PublishEvents", mock.Anything, mock.Anything).Return(errors.New("stream unavailable"))
	f.sched.sink = sink
	seedEvents(t, f.Outbox, 2)

	err := f.sched.OutboxRelayJob(context.Background())
	require.Error(t, err)

	pending, err := f.Outbox.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRunOnceSkipsRelayWithoutSink(t *testing.T) {
	f := newSchedulerFixture(t, Config{EnabledJobs: []string{JobOutboxRelay}})
	seedEvents(t, f.Outbox, 1)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	pending, err := f.Outbox.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOutboxPruneJobHonoursRetention(t *testing.T) {
	f := newSchedulerFixture(t, Config{EventRetention: time.Hour})
	ctx := context.Background()
	sink := &mockSink{}
	sink.On("PublishEvents", mock.Anything, mock.Anything).Return(nil)
	f.sched.sink = sink
	seedEvents(t, f.Outbox, 3)
	require.NoError(t, f.sched.OutboxRelayJob(ctx))

	// events carry wall-clock timestamps; move the fake clock past retention
	f.Clock.Set(time.Now().Add(2 * time.Hour))
	require.NoError(t, f.sched.OutboxPruneJob(ctx))

	var total int64
	require.NoError(t, f.DB.Raw(`SELECT COUNT(*) FROM gateway_events`).Scan(&total).Error)
	assert.Zero(t, total)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
