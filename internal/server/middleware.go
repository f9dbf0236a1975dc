package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	obscontext "github.com/smallbiznis/featuregate/internal/observability/context"
	"github.com/smallbiznis/featuregate/internal/tenantcontext"
)

const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderActorRole = "X-Actor-Role"
)

// RequireTenantIdentity reads the tenant and user handed over by the identity layer.
func (s *Server) RequireTenantIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantcontext.ParseID(c.GetHeader(HeaderTenantID))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, ok := tenantcontext.ParseID(c.GetHeader(HeaderUserID))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = tenantcontext.WithTenantID(ctx, tenantID)
		ctx = tenantcontext.WithUserID(ctx, userID)
		ctx = obscontext.WithTenantID(ctx, tenantID.String())
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdminIdentity requires an operator id and role. Authorization happens per route.
func (s *Server) RequireAdminIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := tenantcontext.ParseID(c.GetHeader(HeaderUserID))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = tenantcontext.WithUserID(ctx, actorID)
		ctx = tenantcontext.WithActorRole(ctx, role)
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAdmin), actorID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (snowflake.ID, snowflake.ID, bool) {
	ctx := c.Request.Context()
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return 0, 0, false
	}
	userID, ok := tenantcontext.UserIDFromContext(ctx)
	if !ok {
		return 0, 0, false
	}
	return tenantID, userID, true
}
