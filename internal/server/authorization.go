package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/featuregate/internal/tenantcontext"
)

func (s *Server) authorizeAdmin(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := c.Request.Context()
		actorID, ok := tenantcontext.UserIDFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := tenantcontext.ActorRoleFromContext(ctx)

		if err := s.authzSvc.Authorize(ctx, actorID.String(), role, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// adminActor returns the operator id recorded on audit entries and alert resolutions.
func adminActor(c *gin.Context) string {
	actorID, ok := tenantcontext.UserIDFromContext(c.Request.Context())
	if !ok {
		return ""
	}
	return actorID.String()
}
