package app

import (
	"github.com/gin-gonic/gin"

	"github.com/slidesmith/deckgen-backend/internal/http/handlers"
	"github.com/slidesmith/deckgen-backend/internal/http/middleware"
)

// Router assembles the gin engine: middleware chain, public health check and
// the authenticated API surface.
func (a *App) Router() *gin.Engine {
	if a.Cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(a.Log))
	r.Use(middleware.CORS(a.Cfg.CORSOrigins))

	healthHandler := handlers.NewHealthHandler()
	deckHandler := handlers.NewDeckHandler(a.Log, a.Decks, a.Jobs)
	jobHandler := handlers.NewJobHandler(a.Log, a.Jobs)
	stageHandler := handlers.NewStageHandler(a.Log, a.Stages)
	streamHandler := handlers.NewProgressStreamHandler(a.Log, a.Decks, a.Stages, a.Cfg.StreamPollInterval)
	realtimeHandler := handlers.NewRealtimeHandler(a.Log, a.Hub)

	r.GET("/health", healthHandler.Health)

	auth := middleware.NewAuthMiddleware(a.Log, a.Tokens)
	api := r.Group("/api")
	api.Use(auth.RequireAuth())
	{
		api.POST("/decks", deckHandler.Create)
		api.GET("/decks/:id", deckHandler.Get)
		api.POST("/decks/:id/generate", deckHandler.Generate)
		api.GET("/decks/:id/progress-stream", streamHandler.Stream)

		api.GET("/jobs/:id", jobHandler.Get)
		api.GET("/jobs/:id/status", jobHandler.Status)
		api.GET("/queue/status", jobHandler.QueueStatus)

		api.GET("/stages", stageHandler.GetAll)
		api.GET("/stages/:name", stageHandler.Get)
		api.POST("/stages/:name", stageHandler.Post)
		api.GET("/stage-progress", stageHandler.Progress)

		api.GET("/realtime/sse", realtimeHandler.SSEStream)
	}

	return r
}
