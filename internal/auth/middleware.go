package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// ServiceKeyHeader carries the shared key of trusted upstream services.
const ServiceKeyHeader = "X-Service-Key"

// Gin context keys set by RequireAccessToken.
const (
	GinParticipantID = "participant_id"
	GinKind          = "kind"
)

// RequireAccessToken verifies an access token and injects identity into request context.
// Browsers cannot set headers on a websocket handshake, so a `token` query
// parameter is accepted when no Authorization header is present.
// It does not perform kind checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.ParticipantID, claims.Kind)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set(GinParticipantID, claims.ParticipantID)
		c.Set(GinKind, claims.Kind)

		c.Next()
	}
}

// RequireServiceKey admits only callers presenting key in ServiceKeyHeader.
// An empty key admits nobody.
func RequireServiceKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader(ServiceKeyHeader)))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "service credential required"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if raw != "" {
		if !strings.HasPrefix(raw, bearerPrefix) {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return strings.TrimSpace(c.Query("token"))
}
