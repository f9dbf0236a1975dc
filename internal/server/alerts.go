package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

func (s *Server) ListAlerts(c *gin.Context) {
	var query struct {
		pagination.Pagination
		TenantID string `form:"tenant_id"`
		Type     string `form:"type"`
		Resolved string `form:"resolved"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resolved, err := parseOptionalBool(query.Resolved)
	if err != nil {
		AbortWithError(c, newValidationError("resolved", "invalid_resolved", "invalid resolved"))
		return
	}

	req := alertdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		TenantID: strings.TrimSpace(query.TenantID),
		Resolved: resolved,
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Type)); raw != "" {
		alertType := alertdomain.AlertType(raw)
		req.Type = &alertType
	}

	resp, err := s.alertSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Alerts, "page_info": resp.PageInfo})
}

func (s *Server) ResolveAlert(c *gin.Context) {
	resp, err := s.alertSvc.Resolve(c.Request.Context(), strings.TrimSpace(c.Param("id")), adminActor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, resp.TenantID, "alert.resolve", "alert", resp.ID, map[string]any{
		"type":     string(resp.Type),
		"severity": string(resp.Severity),
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
