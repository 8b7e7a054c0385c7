package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const headerUserID = "X-User-Id"

// requireUser rejects requests without an X-User-Id header and stores the
// user ID in the request context. The header is trusted as-is.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			abortWithError(c, http.StatusUnauthorized, "missing X-User-Id header")

			return
		}

		c.Request = c.Request.WithContext(withUserID(c.Request.Context(), userID))
		c.Next()
	}
}
