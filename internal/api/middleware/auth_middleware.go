package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portraitStudio/internal/auth"
)

// UserIDKey 是上下文中保存用户 id 的键。
const UserIDKey = "userID"

// TokenVerifier 校验 Bearer Token，*auth.Verifier 实现了它。
type TokenVerifier interface {
	ValidateToken(token string) (*auth.Claims, error)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware 校验 ID Token 并将 userID 注入上下文。
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := verifier.ValidateToken(token)
		if err != nil {
			LoggerFromContext(c).Debug("reject bearer token", slog.Any("error", err))
			abortUnauthorized(c)
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Next()
	}
}

// UserID 返回 AuthMiddleware 注入的用户 id。
func UserID(c *gin.Context) (string, bool) {
	value, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}
