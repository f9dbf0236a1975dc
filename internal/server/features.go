package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
)

type createFeatureRequest struct {
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    *string        `json:"description"`
	Category       string         `json:"category"`
	Tags           []string       `json:"tags"`
	CreditsPerUse  *int64         `json:"credits_per_use"`
	ProviderID     string         `json:"provider_id"`
	Model          *string        `json:"model"`
	SystemPrompt   *string        `json:"system_prompt"`
	PromptTemplate *string        `json:"prompt_template"`
	MaxTokens      *int           `json:"max_tokens"`
	Temperature    *float64       `json:"temperature"`
	Metadata       map[string]any `json:"metadata"`
}

type updateFeatureRequest struct {
	Name           *string        `json:"name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Category       *string        `json:"category,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	CreditsPerUse  *int64         `json:"credits_per_use,omitempty"`
	ProviderID     *string        `json:"provider_id,omitempty"`
	Model          *string        `json:"model,omitempty"`
	SystemPrompt   *string        `json:"system_prompt,omitempty"`
	PromptTemplate *string        `json:"prompt_template,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Create(c.Request.Context(), featuredomain.CreateRequest{
		Code:           strings.TrimSpace(req.Code),
		Name:           strings.TrimSpace(req.Name),
		Description:    trimOptionalString(req.Description),
		Category:       strings.TrimSpace(req.Category),
		Tags:           req.Tags,
		CreditsPerUse:  req.CreditsPerUse,
		ProviderID:     strings.TrimSpace(req.ProviderID),
		Model:          trimOptionalString(req.Model),
		SystemPrompt:   req.SystemPrompt,
		PromptTemplate: req.PromptTemplate,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditFeature(c, "feature.create", resp)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFeatures(c *gin.Context) {
	var query struct {
		Status     string `form:"status"`
		Category   string `form:"category"`
		ProviderID string `form:"provider_id"`
		SortBy     string `form:"sort_by"`
		OrderBy    string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	providerID, err := parseOptionalSnowflakeID(query.ProviderID)
	if err != nil {
		AbortWithError(c, newValidationError("provider_id", "invalid_provider_id", "invalid provider_id"))
		return
	}

	var status *featuredomain.Status
	if raw := strings.ToLower(strings.TrimSpace(query.Status)); raw != "" {
		parsed := featuredomain.Status(raw)
		switch parsed {
		case featuredomain.StatusDraft,
			featuredomain.StatusTesting,
			featuredomain.StatusPublished,
			featuredomain.StatusDeprecated,
			featuredomain.StatusArchived:
		default:
			AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
			return
		}
		status = &parsed
	}

	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{
		Status:     status,
		Category:   strings.TrimSpace(query.Category),
		ProviderID: providerID,
		SortBy:     strings.TrimSpace(query.SortBy),
		OrderBy:    strings.TrimSpace(query.OrderBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeature(c *gin.Context) {
	resp, err := s.featureSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	var req updateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Update(c.Request.Context(), featuredomain.UpdateRequest{
		ID:             strings.TrimSpace(c.Param("id")),
		Name:           trimOptionalString(req.Name),
		Description:    req.Description,
		Category:       trimOptionalString(req.Category),
		Tags:           req.Tags,
		CreditsPerUse:  req.CreditsPerUse,
		ProviderID:     trimOptionalString(req.ProviderID),
		Model:          trimOptionalString(req.Model),
		SystemPrompt:   req.SystemPrompt,
		PromptTemplate: req.PromptTemplate,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditFeature(c, "feature.update", resp)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PublishFeature(c *gin.Context) {
	s.transitionFeature(c, "feature.publish", s.featureSvc.Publish)
}

func (s *Server) DeprecateFeature(c *gin.Context) {
	s.transitionFeature(c, "feature.deprecate", s.featureSvc.Deprecate)
}

func (s *Server) ArchiveFeature(c *gin.Context) {
	s.transitionFeature(c, "feature.archive", s.featureSvc.Archive)
}

func (s *Server) MoveFeatureToTesting(c *gin.Context) {
	s.transitionFeature(c, "feature.testing", s.featureSvc.MoveToTesting)
}

func (s *Server) transitionFeature(c *gin.Context, action string, transition func(context.Context, string) (*featuredomain.Response, error)) {
	resp, err := transition(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditFeature(c, action, resp)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) auditFeature(c *gin.Context, action string, resp *featuredomain.Response) {
	if s.auditSvc == nil {
		return
	}
	targetID := resp.ID
	_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, action, "feature", &targetID, map[string]any{
		"feature_id":  resp.ID,
		"code":        resp.Code,
		"status":      string(resp.Status),
		"provider_id": resp.ProviderID,
	})
}
