package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"planlink/internal/chat"
	"planlink/internal/config"
	"planlink/internal/db"
	"planlink/internal/delivery"
	myMiddleware "planlink/internal/middleware"
	"planlink/internal/notify"
	"planlink/internal/user"
	"planlink/internal/ws"
)

func main() {
	// 1. Config & Flags
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	if cfg.DBDSN == "" {
		log.Fatal("❌ DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	// 2. Connect to Database
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	channel := notify.NewRedisChannel(redisClient, logger)

	// 4. Initialize User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Initialize Messaging Feature
	var moderator chat.Moderator
	if cfg.ModerationURL != "" {
		moderator = chat.NewModerationClient(cfg.ModerationURL, cfg.ModerationTimeout)
	} else {
		logger.Warn("MODERATION_URL not set, messages stored unfiltered")
	}

	chatRepo := chat.NewRepository(database.Conn, moderator, logger)
	chatHandler := chat.NewHandler(chatRepo, channel, logger)
	wsHandler := ws.NewHandler(chatRepo, channel, delivery.Options{}, logger)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (Real-time delivery)
		r.Get("/ws", wsHandler.ServeWs)

		r.Route("/api", func(r chi.Router) {
			r.Get("/vendors/search", userHandler.SearchVendors)

			// Conversation / message REST surface
			chatHandler.Routes(r)
		})
	})

	log.Printf("🚀 Server starting on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}
