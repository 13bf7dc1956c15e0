package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/clients"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/storage"
	"messaging-service/internal/telemetry"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), "messaging-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", cfg.Environment)

	userClient := clients.NewUserClient(cfg.UserServiceURL)
	circleClient := clients.NewCircleClient(cfg.CircleServiceURL)

	store, err := storage.NewDiskStore(cfg.StorageDir, cfg.MaxFileSize, cfg.AllowedMediaTypes)
	if err != nil {
		log.Fatalf("failed to set up attachment store: %v", err)
	}

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	conversationHandler := handlers.NewConversationHandler(convRepo, messageRepo, userClient, circleClient, store, publisher, audit)
	messageHandler := handlers.NewMessageHandler(convRepo, messageRepo, userClient, circleClient, store, publisher, audit)
	attachmentHandler := handlers.NewAttachmentHandler(store)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	limiter := middleware.NewLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst)
	authMiddleware := middleware.AuthMiddleware(userClient)
	rateLimit := middleware.RateLimitMiddleware(limiter)

	router.GET("/conversations", authMiddleware, rateLimit, conversationHandler.ListConversations)
	router.POST("/conversations/direct", authMiddleware, rateLimit, conversationHandler.StartDirect)
	router.POST("/conversations/group", authMiddleware, rateLimit, conversationHandler.StartGroup)
	router.DELETE("/conversations/:conversation_id", authMiddleware, rateLimit, conversationHandler.DeleteConversation)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, rateLimit, messageHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, rateLimit, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, rateLimit, messageHandler.MarkRead)
	router.GET("/conversations/:conversation_id/unread", authMiddleware, rateLimit, messageHandler.GetUnread)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", authMiddleware, rateLimit, messageHandler.DeleteMessage)
	router.GET("/conversations/:conversation_id/messages/:message_id/receipts", authMiddleware, rateLimit, messageHandler.GetReadReceipts)

	router.POST("/attachments", authMiddleware, rateLimit, attachmentHandler.Upload)

	files := router.Group("/files", authMiddleware, rateLimit)
	files.Static("/", cfg.StorageDir)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
