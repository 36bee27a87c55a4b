package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docchat/internal/bootstrap"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks())
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Anonymous()
	if app.Config.Auth.Enabled {
		auth = middleware.AuthJWT(app.Config.Auth.JWTSecret)
	}
	v1 := router.Group("/api/v1")
	v1.Use(auth)
	Register(v1,
		handler.NewChatHandler(app.Chat),
		handler.NewDocumentHandler(app.Documents),
		handler.NewSessionHandler(app.Sessions),
		handler.NewFeedbackHandler(app.Feedback),
	)
	return router
}

// Register mounts the API routes on an already authenticated group.
func Register(v1 *gin.RouterGroup, chat *handler.ChatHandler, documents *handler.DocumentHandler, sessions *handler.SessionHandler, feedback *handler.FeedbackHandler) {
	v1.POST("/abort", chat.Abort)
	v1.POST("/abort/reset", chat.ResetAbort)
	v1.GET("/abort/:session_id", chat.AbortStatus)

	v1.POST("/sessions", sessions.Create)
	v1.GET("/sessions", sessions.List)
	v1.DELETE("/sessions/:id", sessions.Delete)
	v1.GET("/jobs/:id", sessions.Job)

	docs := v1.Group("/documents")
	docs.POST("/upload", documents.Upload)
	docs.POST("/metadata", documents.SubmitMetadata)
	docs.POST("/commit", documents.Commit)
	docs.GET("/active/:session_id", documents.Active)

	chatGroup := v1.Group("/chat")
	chatGroup.POST("/stream", chat.Stream)
	chatGroup.GET("/history", chat.History)

	v1.POST("/feedback", feedback.Submit)
}
