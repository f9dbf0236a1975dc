package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/featuregate/internal/gateway/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type invokeFeatureRequest struct {
	Input   string         `json:"input"`
	File    string         `json:"file"`
	Options map[string]any `json:"options"`
}

func (s *Server) InvokeFeature(c *gin.Context) {
	tenantID, userID, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	code := strings.TrimSpace(c.Param("code"))
	c.Set("feature_code", code)

	var req invokeFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gatewaySvc.Invoke(c.Request.Context(), gatewaydomain.InvokeRequest{
		TenantID:    tenantID,
		UserID:      userID,
		FeatureCode: code,
		Input:       req.Input,
		File:        strings.TrimSpace(req.File),
		Options:     req.Options,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("usage_log_id", resp.UsageLogID)
	c.Set("credits_used", resp.CreditsUsed)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAvailableFeatures(c *gin.Context) {
	tenantID, _, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.gatewaySvc.ListAvailableFeatures(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOwnUsage(c *gin.Context) {
	tenantID, userID, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gatewaySvc.UsageHistory(c.Request.Context(), gatewaydomain.UsageHistoryRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		TenantID: tenantID,
		UserID:   userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) GetOwnCredits(c *gin.Context) {
	tenantID, _, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.ledgerSvc.GetBalance(c.Request.Context(), tenantID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
