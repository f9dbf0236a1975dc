package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	// RaiseIfNeeded reports created=false when a de-duplicated alert is already open.
	RaiseIfNeeded(ctx context.Context, req RaiseRequest) (*Alert, bool, error)
	RaiseIfNeededTx(ctx context.Context, tx *gorm.DB, req RaiseRequest) (*Alert, bool, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Resolve(ctx context.Context, id string, actor string) (*Response, error)
}

type RaiseRequest struct {
	TenantID snowflake.ID
	Type     AlertType
	Severity Severity
	Message  string
	Details  map[string]any
}

type ListRequest struct {
	pagination.Pagination
	TenantID string
	Type     *AlertType
	Resolved *bool
}

type ListResponse struct {
	pagination.PageInfo
	Alerts []Response `json:"alerts"`
}

type Response struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy *string        `json:"resolved_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidTenant    = errors.New("invalid_tenant_id")
	ErrInvalidType      = errors.New("invalid_alert_type")
	ErrInvalidSeverity  = errors.New("invalid_severity")
	ErrInvalidMessage   = errors.New("invalid_message")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrAlreadyResolved  = errors.New("alert_already_resolved")
	ErrNotFound         = errors.New("not_found")
)
