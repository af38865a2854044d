package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextUserID is the gin context key carrying the authenticated user id.
const ContextUserID = "uid"

// UserIdentity resolves the calling user from the X-User-ID header. When a
// Bearer token is present it is validated against jwtSecret and its sub
// claim must match the header; a header with no token is accepted so the
// trusted backend can call on a user's behalf.
func UserIdentity(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User-ID header"})
			c.Abort()
			return
		}
		uid, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid X-User-ID header"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && jwtSecret != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				c.Abort()
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				c.Abort()
				return
			}
			if sub, _ := claims["sub"].(string); sub != raw {
				c.JSON(http.StatusForbidden, gin.H{"error": "token does not match user"})
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, uid)
		c.Next()
	}
}

// RequireServiceToken guards backend-to-agent endpoints with a shared
// secret.
func RequireServiceToken(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceToken == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service token not configured"})
			c.Abort()
			return
		}
		if c.GetHeader("X-Service-Token") != serviceToken {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID reads the authenticated user id set by UserIdentity.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, false
	}
	uid, ok := value.(uuid.UUID)
	return uid, ok
}
