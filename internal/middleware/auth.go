package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-core/pkg/jwt"
	"realtime-core/pkg/response"
)

const (
	// ContextUserID is the gin context key holding the authenticated user's uuid.UUID
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(tokenString string) (*jwt.Claims, error)
}

// AuthMiddleware validates the bearer token and sets user_id and role in the gin context.
// Browsers cannot set headers on a websocket upgrade, so the token query parameter
// is accepted when allowQueryToken is set.
func AuthMiddleware(validator TokenValidator, allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" && allowQueryToken {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := validator.Validate(tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// UserID returns the authenticated user set by AuthMiddleware
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
