package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	"github.com/smallbiznis/featuregate/internal/tenantcontext"
)

type assignSubscriptionRequest struct {
	Enabled       *bool      `json:"enabled"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreditsPerUse *int64     `json:"credits_per_use"`
	DailyLimit    *int64     `json:"daily_limit"`
	MonthlyLimit  *int64     `json:"monthly_limit"`
}

type userAccessRequest struct {
	Enabled      *bool  `json:"enabled"`
	DailyLimit   *int64 `json:"daily_limit"`
	MonthlyLimit *int64 `json:"monthly_limit"`
}

func (s *Server) AssignSubscription(c *gin.Context) {
	var req assignSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID := strings.TrimSpace(c.Param("tenantId"))
	resp, err := s.subscriptionSvc.Assign(c.Request.Context(), subscriptiondomain.AssignRequest{
		TenantID:      tenantID,
		FeatureID:     strings.TrimSpace(c.Param("featureId")),
		Enabled:       req.Enabled,
		ExpiresAt:     req.ExpiresAt,
		CreditsPerUse: req.CreditsPerUse,
		DailyLimit:    req.DailyLimit,
		MonthlyLimit:  req.MonthlyLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "subscription.assign", "subscription", resp.ID, map[string]any{
		"feature_id":      resp.FeatureID,
		"enabled":         resp.Enabled,
		"expires_at":      resp.ExpiresAt,
		"credits_per_use": resp.CreditsPerUse,
		"daily_limit":     resp.DailyLimit,
		"monthly_limit":   resp.MonthlyLimit,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeSubscription(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenantId"))
	featureID := strings.TrimSpace(c.Param("featureId"))
	if err := s.subscriptionSvc.Unassign(c.Request.Context(), tenantID, featureID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "subscription.revoke", "subscription", featureID, map[string]any{
		"feature_id": featureID,
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	resp, err := s.subscriptionSvc.ListForTenant(c.Request.Context(), strings.TrimSpace(c.Param("tenantId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetUserAccess(c *gin.Context) {
	var req userAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID := strings.TrimSpace(c.Param("tenantId"))
	resp, err := s.subscriptionSvc.SetUserAccess(c.Request.Context(), subscriptiondomain.UserAccessRequest{
		TenantID:     tenantID,
		UserID:       strings.TrimSpace(c.Param("userId")),
		FeatureID:    strings.TrimSpace(c.Param("featureId")),
		Enabled:      req.Enabled,
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "user_access.set", "user_access", resp.ID, map[string]any{
		"user_id":       resp.UserID,
		"feature_id":    resp.FeatureID,
		"enabled":       resp.Enabled,
		"daily_limit":   resp.DailyLimit,
		"monthly_limit": resp.MonthlyLimit,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RemoveUserAccess(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenantId"))
	userID := strings.TrimSpace(c.Param("userId"))
	featureID := strings.TrimSpace(c.Param("featureId"))
	if err := s.subscriptionSvc.RemoveUserAccess(c.Request.Context(), tenantID, userID, featureID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "user_access.remove", "user_access", featureID, map[string]any{
		"user_id":    userID,
		"feature_id": featureID,
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) ListUserAccess(c *gin.Context) {
	resp, err := s.subscriptionSvc.ListUserAccess(
		c.Request.Context(),
		strings.TrimSpace(c.Param("tenantId")),
		strings.TrimSpace(c.Param("userId")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// auditTenant records an admin action scoped to the tenant in the path.
func (s *Server) auditTenant(c *gin.Context, tenantID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var tenant *snowflake.ID
	if parsed, ok := tenantcontext.ParseID(tenantID); ok {
		tenant = &parsed
	}
	target := targetID
	_ = s.auditSvc.AuditLog(c.Request.Context(), tenant, "", nil, action, targetType, &target, metadata)
}
