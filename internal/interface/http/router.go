package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/paper-synthesizer/internal/domain/session"
	"github.com/yanqian/paper-synthesizer/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler, tokens session.Service, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(
		gin.Recovery(),
		requestID(),
		requestLogger(logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		errorHandlingMiddleware(logger),
	)

	router.GET("/healthz", handler.Health)

	api := router.Group("/api/v1")
	api.Use(rateLimitMiddleware(cfg.HTTP.RateLimit, logger))
	{
		api.GET("/models", handler.ListModels)
		api.POST("/models/pull", handler.PullModel)
		api.POST("/sessions", handler.CreateSession)

		sessions := api.Group("/sessions/:id")
		sessions.Use(sessionAuthMiddleware(tokens))
		{
			sessions.GET("", handler.GetSession)
			sessions.POST("/document", handler.UploadDocument)
			sessions.POST("/generate", handler.Generate)
			sessions.GET("/discussion.md", handler.DownloadDiscussion)
			sessions.GET("/view", handler.ViewSession)
		}
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
