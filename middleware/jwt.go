package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/docqa-be/types"
	"github.com/tieubaoca/docqa-be/utils"
)

const ContextUserKey = "user"

// JWTAuthMiddleware rejects requests without a valid bearer token and
// stores the authenticated user in the gin context. Websocket clients
// cannot set headers, so a token query parameter is accepted as well.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.DataResponse{
				Status:  false,
				Message: "missing authorization token",
			})
			return
		}
		claims, err := utils.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.DataResponse{
				Status:  false,
				Message: "invalid or expired token",
			})
			return
		}
		c.Set(ContextUserKey, utils.UserFromClaims(claims))
		c.Next()
	}
}

// RequireAdmin must run after JWTAuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || user.Role != types.USER_ROLE_ADMIN {
			c.AbortWithStatusJSON(http.StatusForbidden, types.DataResponse{
				Status:  false,
				Message: "admin access required",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// CurrentUser returns the authenticated user, or nil outside the
// authenticated route group.
func CurrentUser(c *gin.Context) *types.User {
	val, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := val.(*types.User)
	return user
}
