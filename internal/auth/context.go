package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/sticker-chat/internal/domain"
)

// Context identifies the authenticated caller of an operation. It is
// passed explicitly into component operations rather than looked up
// ambiently, so every admin check names the caller it is checking.
type Context struct {
	UserID      string
	DisplayName string
	Role        string
}

// IsAdmin reports whether the caller holds the admin role.
func (c Context) IsAdmin() bool {
	return c.Role == domain.RoleAdmin
}

// Gin context keys set by the auth middleware.
const (
	UserIDKey      = "user_id"
	DisplayNameKey = "display_name"
	RoleKey        = "role"
)

type ctxKey struct{}

// WithContext stores the caller context in a request context.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext retrieves the caller context, reporting whether one was set.
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(ctxKey{}).(Context)
	return ac, ok
}

// FromGin extracts the caller context set by the auth middleware.
func FromGin(c *gin.Context) (Context, bool) {
	userID, ok := c.Get(UserIDKey)
	if !ok {
		return Context{}, false
	}
	ac := Context{UserID: userID.(string)}
	if name, ok := c.Get(DisplayNameKey); ok {
		ac.DisplayName = name.(string)
	}
	if role, ok := c.Get(RoleKey); ok {
		ac.Role = role.(string)
	}
	return ac, true
}
