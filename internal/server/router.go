package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/clipnote/clipnote-backend/internal/handlers"
	"github.com/clipnote/clipnote-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	VideoHandler      *handlers.VideoHandler
	CollectionHandler *handlers.CollectionHandler
	HealthHandler     *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("clipnote-backend"))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthz", cfg.HealthHandler.Liveness)
	router.GET("/readyz", cfg.HealthHandler.Readiness)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Videos
	api.POST("/videos/upload/presigned", cfg.VideoHandler.InitUpload)
	api.POST("/videos/:id/upload/complete", cfg.VideoHandler.CompleteUpload)
	api.POST("/videos/youtube", cfg.VideoHandler.IngestURL)
	api.GET("/videos", cfg.VideoHandler.ListVideos)
	api.GET("/videos/:id", cfg.VideoHandler.GetVideo)
	api.GET("/videos/:id/status", cfg.VideoHandler.GetStatus)
	api.GET("/videos/:id/transcription", cfg.VideoHandler.GetTranscription)
	api.GET("/videos/:id/stream", cfg.VideoHandler.GetStream)
	api.POST("/videos/:id/reprocess", cfg.VideoHandler.Reprocess)
	api.PATCH("/videos/:id", cfg.VideoHandler.UpdateVideo)
	api.DELETE("/videos/:id", cfg.VideoHandler.DeleteVideo)

	// Collections
	api.POST("/collections", cfg.CollectionHandler.Create)
	api.GET("/collections", cfg.CollectionHandler.List)
	api.PUT("/collections/:id", cfg.CollectionHandler.Rename)
	api.DELETE("/collections/:id", cfg.CollectionHandler.Delete)

	return router
}
