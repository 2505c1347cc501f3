package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"callcenter/pkg/logger"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// QueryTokenParam carries the access token for clients that cannot set headers
// (browser WebSocket and EventSource).
const QueryTokenParam = "token"

type options struct {
	allowQuery bool
}

type Option func(*options)

// AllowQueryToken accepts ?token= when no Authorization header is present.
func AllowQueryToken() Option {
	return func(o *options) { o.allowQuery = true }
}

// RequireAccessToken verifies a user access token or an integration service token and
// injects the identity into the request context and request logger.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager, opts ...Option) gin.HandlerFunc {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" && o.allowQuery {
			tok = strings.TrimSpace(c.Query(QueryTokenParam))
		}
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, time.Now(), TokenTypeAccess, TokenTypeService)
		if err != nil {
			logger.FromGin(c).Debug("token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		logger.Enrich(c, "user_id", id.UserID, "role", id.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if !strings.HasPrefix(raw, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
}
