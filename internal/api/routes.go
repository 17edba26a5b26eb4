package api

import (
	"github.com/gin-gonic/gin"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/jobs"
)

// Handlers 汇总网关注册路由所需的处理器。
type Handlers struct {
	Jobs     *JobHandler
	Assets   *AssetHandler
	Notify   *WsHandler
	Verifier middleware.TokenVerifier
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, h Handlers) {
	authMiddleware := middleware.AuthMiddleware(h.Verifier)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", h.Notify.HandleConnection)

		jobGroup := v1.Group("/jobs")
		jobGroup.Use(authMiddleware)
		{
			jobGroup.POST("/speech", h.Jobs.Create(jobs.KindSpeech))
			jobGroup.POST("/age", h.Jobs.Create(jobs.KindAge))
			jobGroup.POST("/background", h.Jobs.Create(jobs.KindBackground))
			jobGroup.GET("", h.Jobs.List)
			jobGroup.GET("/:id", h.Jobs.Get)
			jobGroup.GET("/:id/artifact", h.Jobs.ArtifactURL)
			jobGroup.DELETE("/:id", h.Jobs.Delete)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware)
		{
			assetGroup.POST("/upload", h.Assets.UploadAsset)
			assetGroup.GET("", h.Assets.ListAssets)
			assetGroup.GET("/view", h.Assets.GetAssetURL)
		}
	}
}
