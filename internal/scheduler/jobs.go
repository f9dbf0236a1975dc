package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"go.uber.org/zap"
)

// ProviderHealthJob probes active and failing providers so a recovered
// upstream returns to service without an admin. TestConnection persists the
// resulting status and invalidates the catalog cache when it changes.
func (s *Scheduler) ProviderHealthJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobProviderHealth, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	providers, err := s.providers.List(ctx, providerdomain.ListRequest{})
	if err != nil {
		s.logJobError(ctx, run, "scheduler.provider.list_failed", err)
		return err
	}

	var jobErr error
	for _, item := range providers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Status != providerdomain.StatusActive && item.Status != providerdomain.StatusError {
			continue
		}

		probe, err := s.providers.TestConnection(ctx, item.ID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(ctx, run, "scheduler.provider.probe_failed", err, zap.String("provider_id", item.ID))
			continue
		}
		run.AddProcessed(1)

		if probe.Status == item.Status {
			continue
		}
		s.logger(ctx).Info("scheduler.provider.status_changed",
			zap.String("provider_id", item.ID),
			zap.String("from", string(item.Status)),
			zap.String("to", string(probe.Status)),
			zap.String("message", probe.Message),
		)
		s.auditProviderHealth(ctx, item, probe)
	}

	return jobErr
}

func (s *Scheduler) auditProviderHealth(ctx context.Context, item providerdomain.Response, probe *providerdomain.ProbeResponse) {
	if s.auditSvc == nil {
		return
	}
	targetID := item.ID
	err := s.auditSvc.AuditLog(ctx, nil, "", nil, "provider.health_changed", "provider", &targetID, map[string]any{
		"from":       string(item.Status),
		"to":         string(probe.Status),
		"latency_ms": probe.LatencyMs,
	})
	if err != nil {
		s.logger(ctx).Warn("scheduler.provider.audit_failed", zap.String("provider_id", item.ID), zap.Error(err))
	}
}

// OutboxRelayJob forwards unpublished gateway events to the event stream,
// batch by batch, marking each batch published after a successful write.
func (s *Scheduler) OutboxRelayJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobOutboxRelay, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if s.sink == nil || !s.sink.Enabled() {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := s.outbox.Pending(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.outbox.pending_failed", err)
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := s.sink.PublishEvents(ctx, batch); err != nil {
			s.logJobError(ctx, run, "scheduler.outbox.relay_failed", err, zap.Int("batch", len(batch)))
			return err
		}

		ids := make([]snowflake.ID, 0, len(batch))
		for _, event := range batch {
			ids = append(ids, event.ID)
		}
		if err := s.outbox.MarkPublished(ctx, ids); err != nil {
			s.logJobError(ctx, run, "scheduler.outbox.mark_failed", err,
				zap.String("first_event_id", ids[0].String()),
				zap.Int("batch", len(ids)),
			)
			return err
		}
		run.AddProcessed(len(batch))

		if len(batch) < s.cfg.BatchSize {
			return nil
		}
	}
}

// OutboxPruneJob deletes relayed events older than the retention window.
func (s *Scheduler) OutboxPruneJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobOutboxPrune, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.EventRetention)
	removed, err := s.outbox.Prune(ctx, cutoff)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.outbox.prune_failed", err)
		return err
	}
	run.AddProcessed(int(removed))
	return nil
}
