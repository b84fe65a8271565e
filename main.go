package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/cache"
	"realtime-chat/internal/db"
	"realtime-chat/internal/handlers"
	"realtime-chat/internal/middleware"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/pipeline"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/rabbitmq"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

func main() {
	if getEnv("ENVIRONMENT", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "realtime-chat", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer(context.Background())

	// Cache is an optimization only: a missing Redis degrades every read
	// to the database and presence stays in-process.
	var cacheStore cache.Store
	if redisStore, err := cache.NewRedisStore(getEnv("REDIS_URL", "redis://localhost:6379/0")); err != nil {
		log.Printf("cache disabled: %v", err)
	} else {
		cacheStore = redisStore
		defer redisStore.Close()
	}
	chatCache := cache.NewChatCache(cacheStore)

	publisher := rabbitmq.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "chat_events"))
	defer publisher.Close()
	observability.SetPublisher(publisher)

	tokens := auth.NewTokenService(getEnv("JWT_SECRET", "dev-secret"), 24*time.Hour)

	userRepo := repositories.NewUserRepo(database)
	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	registry := presence.NewMemoryRegistry(cacheStore)
	pipe := pipeline.New(conversationRepo, messageRepo, chatCache, hub)

	authHandler := handlers.NewAuthHandler(userRepo, tokens)
	chatHandler := handlers.NewChatHandler(userRepo, conversationRepo, messageRepo, chatCache, registry)
	sessionHandler := ws.NewSessionHandler(hub, tokens, userRepo, conversationRepo, pipe, registry)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("realtime-chat"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)

	authMiddleware := middleware.AuthMiddleware(tokens)
	chat := router.Group("/api/chat", authMiddleware)
	chat.GET("/conversations", chatHandler.ListConversations)
	chat.POST("/conversations", chatHandler.CreateConversation)
	chat.GET("/conversations/:id/messages", chatHandler.GetMessages)
	chat.GET("/users/search", chatHandler.SearchUsers)
	chat.GET("/users/online", chatHandler.OnlineUsers)

	router.GET("/ws", sessionHandler.Handle)

	port := getEnv("PORT", "8080")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
