package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
)

// RequireRole checks that the caller identity carries the given role.
// Must run after RequireIdentity or RequireWSIdentity.
func RequireRole(role service.Role) gin.HandlerFunc {
	code := response.ErrForbidden
	switch role {
	case service.RoleParticipant:
		code = response.ErrParticipantOnly
	case service.RoleGrader:
		code = response.ErrGraderOnly
	}

	return func(c *gin.Context) {
		ident, ok := GetIdentity(c)
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if ident.Role != role {
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}
		c.Next()
	}
}
