package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/sticker-chat/pkg/response"
)

const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// Browsers cannot set headers on websocket dials, so the token may
	// also arrive as a query parameter on the /ws endpoint.
	TokenQueryKey = "token"
)

// Middleware validates JWT tokens and installs the caller Context.
type Middleware struct {
	manager *Manager
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(manager *Manager) *Middleware {
	return &Middleware{manager: manager}
}

// RequireAuth returns a Gin middleware that validates the bearer token
// and stores the caller context in both Gin and the request context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		claims, err := m.manager.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		ac := Context{
			UserID:      claims.UserID,
			DisplayName: claims.DisplayName,
			Role:        claims.Role,
		}

		c.Set(UserIDKey, ac.UserID)
		c.Set(DisplayNameKey, ac.DisplayName)
		c.Set(RoleKey, ac.Role)
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), ac))

		c.Next()
	}
}

// RequireAdmin returns a Gin middleware that rejects non-admin callers.
// Must run after RequireAuth.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ac, ok := FromGin(c)
		if !ok {
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}
		if !ac.IsAdmin() {
			response.Forbidden(c, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader(AuthHeaderKey)
	if strings.HasPrefix(header, BearerPrefix) {
		return strings.TrimPrefix(header, BearerPrefix)
	}
	return c.Query(TokenQueryKey)
}
