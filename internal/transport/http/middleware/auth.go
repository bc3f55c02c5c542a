package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireUser rejects anonymous requests.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if state := RequestState(c); state == nil || !state.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}
		c.Next()
	}
}

// RequireSuperuser allows active superusers only.
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := RequestState(c)
		if state == nil || !state.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}
		if !state.User.IsActive || !state.User.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
			return
		}
		c.Next()
	}
}
