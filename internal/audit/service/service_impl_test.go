package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/audit/repository"
	"github.com/smallbiznis/featuregate/internal/clock"
	obscontext "github.com/smallbiznis/featuregate/internal/observability/context"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	return NewService(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestAuditLogMasksSecretsAndCapturesActor(t *testing.T) {
	svc := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "9001")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "curl/8")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	target := "42"
	err := svc.AuditLog(ctx, nil, "", nil, "provider.create", "provider", &target, map[string]any{
		"name":       "openai",
		"credential": "sk-live-abcdef1234",
	})
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditLogs) != 1 {
		t.Fatalf("expected 1 audit log, got %d", len(resp.AuditLogs))
	}
	entry := resp.AuditLogs[0]
	if entry.ActorType != "admin" || entry.ActorID == nil || *entry.ActorID != "9001" {
		t.Fatalf("unexpected actor %s %v", entry.ActorType, entry.ActorID)
	}
	if entry.Metadata["credential"] != "****1234" {
		t.Fatalf("credential not masked: %v", entry.Metadata["credential"])
	}
	if entry.Metadata["request_id"] != "req-1" {
		t.Fatalf("request id missing: %v", entry.Metadata)
	}
	if entry.IPAddress == nil || *entry.IPAddress != "10.0.0.1" {
		t.Fatalf("ip address missing")
	}
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc := newTestService(t)
	if err := svc.AuditLog(context.Background(), nil, "", nil, " ", "feature", nil, nil); err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, action := range []string{"feature.create", "feature.publish", "feature.archive"} {
		if err := svc.AuditLog(ctx, nil, "system", nil, action, "feature", nil, nil); err != nil {
			t.Fatalf("audit log: %v", err)
		}
	}

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2
	first, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.AuditLogs) != 2 || !first.HasMore {
		t.Fatalf("unexpected first page: %d more=%v", len(first.AuditLogs), first.HasMore)
	}
	if first.AuditLogs[0].Action != "feature.archive" {
		t.Fatalf("expected newest first, got %s", first.AuditLogs[0].Action)
	}

	req.PageToken = first.NextPageToken
	second, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.AuditLogs) != 1 || second.HasMore {
		t.Fatalf("unexpected second page: %d more=%v", len(second.AuditLogs), second.HasMore)
	}
	if second.AuditLogs[0].Action != "feature.create" {
		t.Fatalf("unexpected action %s", second.AuditLogs[0].Action)
	}
}
