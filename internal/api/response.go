package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorCode 在错误信息之外附带业务错误码。
func ErrorCode(c *gin.Context, status, code int, msg string) {
	if msg == "" {
		msg = errcode.Message(code)
	}
	c.JSON(status, gin.H{"error": msg, "error_code": code})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

func userIDFromContext(c *gin.Context) (string, bool) {
	return middleware.UserID(c)
}
