package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"github.com/liveline/presence-engine/internal/cache"
	"github.com/liveline/presence-engine/internal/channel"
	"github.com/liveline/presence-engine/internal/handlers"
	"github.com/liveline/presence-engine/internal/middleware"
	"github.com/liveline/presence-engine/internal/repository"
	"github.com/liveline/presence-engine/internal/service"
	"github.com/liveline/presence-engine/internal/validation"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Presence Engine",
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))

	// Initialize database connection
	db, err := repository.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsedDB, err := strconv.Atoi(dbStr); err == nil {
			redisDB = parsedDB
		}
	}

	redisCache := cache.NewRedisCache(redisAddr, redisPassword, redisDB)
	if err := redisCache.Ping(); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running single-node without cache.", err)
		redisCache = nil
	} else {
		log.Println("Redis connected successfully")
	}

	// Channel transport: Redis when available, in-process otherwise
	var transport channel.Transport
	if redisCache != nil {
		transport = channel.NewRedisTransport(redisCache.Client())
	} else {
		transport = channel.NewMemoryTransport()
	}

	presenceCache := cache.NewPresenceCache(redisCache)

	// Every durable write also feeds the row-level change stream.
	changeFeed := service.NewChangeFeed(transport)
	var presenceRepo repository.PresenceRepositoryInterface = repository.NewNotifyingRepository(
		repository.NewPresenceRepository(db),
		changeFeed.Publish,
	)

	heartbeatInterval := validation.HeartbeatInterval()

	// Services
	presenceService := service.NewPresenceService(presenceRepo, presenceCache, heartbeatInterval)
	aggregator := service.NewAggregator(transport)
	typing := service.NewTypingChannels(transport)

	if err := aggregator.Subscribe(context.Background()); err != nil {
		log.Printf("WARNING: presence aggregator subscribe failed: %v", err)
	}

	// Handlers
	wsHandler := handlers.NewWebSocketHandler(presenceRepo, presenceCache, transport, aggregator, typing, heartbeatInterval)
	presenceHandler := handlers.NewPresenceHandler(presenceService, aggregator)

	// Routes
	api := app.Group("/api", middleware.OriginAllowed())

	protected := api.Group("/", middleware.AuthRequired())
	protected.Get("/presence/online", presenceHandler.GetOnlineUsers)
	protected.Get("/presence/:user_id", presenceHandler.GetPresence)
	protected.Get("/presence/:user_id/connected", presenceHandler.GetConnected)
	protected.Post(
		"/presence/heartbeat",
		limiter.New(limiter.Config{
			Max:        60,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
		}),
		presenceHandler.Heartbeat,
	)
	protected.Post("/presence/offline", presenceHandler.Offline)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(),
		middleware.AuthRequired(),
		func(c *fiber.Ctx) error {
			// Upgrade to WebSocket
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		online, _ := presenceCache.GetOnlineCount()
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": wsHandler.GetHub().Count(),
			"online":   online,
		})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s...", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
