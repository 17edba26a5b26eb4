package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/config"
	"portraitStudio/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎，挂载公共中间件、健康检查与指标端点。
func NewRouter(cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if cfg != nil && cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger, "/health", "/metrics"),
		gin.Recovery(),
		metrics.GinMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
