package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/pkg/jwtutil"
	"docchat/internal/transport/http/response"
)

const (
	ContextOwnerKey = "owner"
	ContextNameKey  = "owner_name"

	// AnonymousOwner owns every session when auth is disabled.
	AnonymousOwner = "anonymous"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextOwnerKey, claims.Owner())
		c.Set(ContextNameKey, claims.Name)
		c.Next()
	}
}

// Anonymous stands in for AuthJWT when auth is disabled.
func Anonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextOwnerKey, AnonymousOwner)
		c.Next()
	}
}

func Owner(c *gin.Context) (string, bool) {
	owner := c.GetString(ContextOwnerKey)
	return owner, owner != ""
}
