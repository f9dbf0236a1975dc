package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/events"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobProviderHealth = "provider_health"
	JobOutboxRelay    = "outbox_relay"
	JobOutboxPrune    = "outbox_prune"

	systemActorType = string(auditdomain.ActorTypeSystem)
	systemActorID   = "scheduler"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// eventSink receives relayed outbox events.
type eventSink interface {
	Enabled() bool
	PublishEvents(ctx context.Context, batch []events.StoredEvent) error
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Providers providerdomain.Service
	Outbox    *events.Outbox
	Stream    *events.StreamPublisher      `optional:"true"`
	AuditSvc  auditdomain.Service          `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

// Scheduler runs periodic maintenance: provider health probes and the
// gateway event outbox lifecycle.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	providers providerdomain.Service
	outbox    *events.Outbox
	sink      eventSink
	auditSvc  auditdomain.Service
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Providers == nil || p.Outbox == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		outbox:    p.Outbox,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
	if p.Stream.Enabled() {
		s.sink = p.Stream
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := s.schedulerMetrics()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddBatchProcessed(name, run.processedCount)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick resumes the work
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobProviderHealth, s.isJobEnabled(JobProviderHealth), s.ProviderHealthJob},
		{JobOutboxRelay, s.sink != nil && s.isJobEnabled(JobOutboxRelay), s.OutboxRelayJob},
		{JobOutboxPrune, s.isJobEnabled(JobOutboxPrune), s.OutboxPruneJob},
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := s.schedulerMetrics()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.RunInterval),
		zap.Strings("jobs", s.cfg.EnabledJobs),
		zap.Bool("event_relay", s.sink != nil),
	)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		schedMetrics.ObserveRunLoopLag(time.Since(nextRun))
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) schedulerMetrics() *obsmetrics.SchedulerMetrics {
	if s.metrics != nil {
		return s.metrics
	}
	return obsmetrics.Scheduler()
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
