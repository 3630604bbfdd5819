package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	appsvc "docchat/internal/app"
	"docchat/internal/bootstrap"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

type Handlers struct {
	Health    *handler.HealthHandler
	Documents *handler.DocumentHandler
	Messages  *handler.MessageHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	cfg := app.Config
	documentRepo := repository.NewDocumentRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	documentService := appsvc.NewDocumentService(documentRepo, app.Dispatcher, app.VectorStore, app.HistoryCache, app.Logger)
	conversationService := appsvc.NewConversationService(
		documentRepo,
		messageRepo,
		app.HistoryCache,
		appsvc.PageLimits{Default: cfg.Chat.DefaultPageLimit, Max: cfg.Chat.MaxPageLimit},
		cfg.RAG.HistoryWindow,
		app.Logger,
	)
	chatService := appsvc.NewChatService(
		documentRepo,
		conversationService,
		retrieval.NewEngine(documentRepo, app.LLM, app.VectorStore, cfg.RAG.TopK),
		app.LLM,
		appsvc.ChatOptions{
			MaxQuestionBytes:   cfg.Chat.MaxQuestionBytes,
			PersistTimeout:     cfg.PersistTimeout(),
			CancelOnDisconnect: cfg.Chat.CancelOnDisconnect,
		},
		app.Logger,
	)

	checks := map[string]handler.Pinger{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		},
		"rabbitmq": func(context.Context) error {
			if app.MQConn == nil || app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}

	gin.SetMode(cfg.App.GinMode)
	return NewEngine(cfg.Auth.JWTSecret, app.Logger, Handlers{
		Health:    handler.NewHealthHandler(cfg.App.Name, cfg.App.Env, app.StartedAt, checks),
		Documents: handler.NewDocumentHandler(documentService),
		Messages:  handler.NewMessageHandler(conversationService, chatService, app.Logger),
	})
}

// NewEngine mounts the routes on a fresh gin engine.
func NewEngine(jwtSecret string, logger *slog.Logger, h Handlers) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger), gin.Recovery())
	router.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "route not found")
	})

	if h.Health != nil {
		router.GET("/healthz", h.Health.Check)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(jwtSecret))

	documents := v1.Group("/documents")
	documents.POST("", h.Documents.Upload)
	documents.GET("", h.Documents.List)
	documents.GET("/by-key/:key", h.Documents.GetByKey)
	documents.GET("/:id", h.Documents.Get)
	documents.GET("/:id/status", h.Documents.Status)
	documents.DELETE("/:id", h.Documents.Delete)
	documents.GET("/:id/messages", h.Messages.List)
	documents.POST("/:id/messages", h.Messages.Ask)

	return router
}
