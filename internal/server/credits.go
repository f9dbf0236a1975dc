package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type grantCreditsRequest struct {
	Amount      int64   `json:"amount"`
	Type        string  `json:"type"`
	Description *string `json:"description"`
}

type thresholdRequest struct {
	LowBalanceThreshold *int64 `json:"low_balance_threshold"`
}

func (s *Server) GetTenantCredits(c *gin.Context) {
	resp, err := s.ledgerSvc.GetBalance(c.Request.Context(), strings.TrimSpace(c.Param("tenantId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID := strings.TrimSpace(c.Param("tenantId"))
	resp, err := s.ledgerSvc.Grant(c.Request.Context(), ledgerdomain.GrantRequest{
		TenantID:    tenantID,
		Amount:      req.Amount,
		Type:        ledgerdomain.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Description: trimOptionalString(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "credits.grant", "credit_transaction", resp.ID, map[string]any{
		"amount":        resp.Amount,
		"type":          string(resp.Type),
		"balance_after": resp.BalanceAfter,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetLowBalanceThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.LowBalanceThreshold == nil {
		AbortWithError(c, newValidationError("low_balance_threshold", "required", "low_balance_threshold is required"))
		return
	}

	tenantID := strings.TrimSpace(c.Param("tenantId"))
	resp, err := s.ledgerSvc.SetThreshold(c.Request.Context(), tenantID, *req.LowBalanceThreshold)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditTenant(c, tenantID, "credits.threshold", "credit_balance", resp.TenantID, map[string]any{
		"low_balance_threshold": resp.LowBalanceThreshold,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Type string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := ledgerdomain.ListTransactionsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		TenantID: strings.TrimSpace(c.Param("tenantId")),
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Type)); raw != "" {
		txType := ledgerdomain.TransactionType(raw)
		req.Type = &txType
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}
