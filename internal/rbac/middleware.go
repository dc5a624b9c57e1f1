package rbac

import (
	"net/http"

	"consult-platform/internal/auth"
	"consult-platform/internal/participant"

	"github.com/gin-gonic/gin"
)

// RequireIdentity enforces that RequireAccessToken ran and left a participant id in context.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.ParticipantID(c.Request.Context())
		if err != nil || id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "participant identity required"})
			return
		}
		c.Next()
	}
}

// RequireKind allows access if the caller is any of the provided participant kinds.
func RequireKind(allowed ...participant.Kind) gin.HandlerFunc {
	allowedSet := make(map[participant.Kind]struct{}, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = struct{}{}
	}

	return func(c *gin.Context) {
		kind, err := auth.Kind(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "kind required"})
			return
		}
		if _, ok := allowedSet[kind]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
