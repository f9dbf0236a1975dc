package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
)

type createProviderRequest struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Endpoint       *string        `json:"endpoint"`
	Credential     *string        `json:"credential"`
	DefaultModel   *string        `json:"default_model"`
	SupportsVision bool           `json:"supports_vision"`
	Status         *string        `json:"status"`
	Metadata       map[string]any `json:"metadata"`
}

type updateProviderRequest struct {
	Name           *string        `json:"name,omitempty"`
	Endpoint       *string        `json:"endpoint,omitempty"`
	Credential     *string        `json:"credential,omitempty"`
	DefaultModel   *string        `json:"default_model,omitempty"`
	SupportsVision *bool          `json:"supports_vision,omitempty"`
	Status         *string        `json:"status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) CreateProvider(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.providerSvc.Create(c.Request.Context(), providerdomain.CreateRequest{
		Name:           strings.TrimSpace(req.Name),
		Type:           providerdomain.ProviderType(strings.ToLower(strings.TrimSpace(req.Type))),
		Endpoint:       trimOptionalString(req.Endpoint),
		Credential:     trimOptionalString(req.Credential),
		DefaultModel:   trimOptionalString(req.DefaultModel),
		SupportsVision: req.SupportsVision,
		Status:         parseProviderStatus(req.Status),
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditProvider(c, "provider.create", resp)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProviders(c *gin.Context) {
	var query struct {
		Type    string `form:"type"`
		Status  string `form:"status"`
		SortBy  string `form:"sort_by"`
		OrderBy string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := providerdomain.ListRequest{
		SortBy:  strings.TrimSpace(query.SortBy),
		OrderBy: strings.TrimSpace(query.OrderBy),
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Type)); raw != "" {
		providerType := providerdomain.ProviderType(raw)
		switch providerType {
		case providerdomain.ProviderTypeChatCompletion,
			providerdomain.ProviderTypeMessages,
			providerdomain.ProviderTypeGenerateContent,
			providerdomain.ProviderTypeCustom:
		default:
			AbortWithError(c, newValidationError("type", "invalid_provider_type", "invalid provider type"))
			return
		}
		req.Type = &providerType
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		req.Status = parseProviderStatus(&raw)
	}

	resp, err := s.providerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProvider(c *gin.Context) {
	resp, err := s.providerSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateProvider(c *gin.Context) {
	var req updateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.providerSvc.Update(c.Request.Context(), providerdomain.UpdateRequest{
		ID:             strings.TrimSpace(c.Param("id")),
		Name:           trimOptionalString(req.Name),
		Endpoint:       trimOptionalString(req.Endpoint),
		Credential:     trimOptionalString(req.Credential),
		DefaultModel:   trimOptionalString(req.DefaultModel),
		SupportsVision: req.SupportsVision,
		Status:         parseProviderStatus(req.Status),
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metadata := map[string]any{
		"credential_rotated": req.Credential != nil,
	}
	if req.Status != nil {
		metadata["status"] = string(resp.Status)
	}
	s.auditProviderWith(c, "provider.update", resp.ID, metadata)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteProvider(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.providerSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditProviderWith(c, "provider.delete", id, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) TestProvider(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.providerSvc.TestConnection(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditProviderWith(c, "provider.test", id, map[string]any{
		"success":    resp.Success,
		"latency_ms": resp.LatencyMs,
		"status":     string(resp.Status),
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) auditProvider(c *gin.Context, action string, resp *providerdomain.Response) {
	s.auditProviderWith(c, action, resp.ID, map[string]any{
		"name":   resp.Name,
		"type":   string(resp.Type),
		"status": string(resp.Status),
	})
}

func (s *Server) auditProviderWith(c *gin.Context, action, id string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id
	_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, action, "provider", &targetID, metadata)
}

func parseProviderStatus(value *string) *providerdomain.Status {
	trimmed := trimOptionalString(value)
	if trimmed == nil {
		return nil
	}
	status := providerdomain.Status(strings.ToLower(*trimmed))
	return &status
}
