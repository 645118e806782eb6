package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"skillmart/pkg/utils"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	// Context keys set by JWTAuthMiddleware. The user id is stored in its string form.
	ContextUserID = "user_id"
	ContextRole   = "role"
)

const bearerPrefix = "Bearer "

// JWTAuthMiddleware admits requests carrying a valid bearer token whose subject is a user id.
func JWTAuthMiddleware(issuer *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, bearerPrefix)
		if !found || tokenString == "" {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}

		claims, err := issuer.ValidateToken(tokenString)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}
		if _, err := uuid.Parse(claims.UserID); err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Token subject is not a user")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RoleMiddleware admits callers holding any of roles. It must run after JWTAuthMiddleware.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(ContextRole)) {
			utils.RespondError(c, http.StatusForbidden, "Forbidden: insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
