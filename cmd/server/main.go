package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/app"
	"github.com/fanclub/backend/internal/auth"
	"github.com/fanclub/backend/internal/cache"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/handlers"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/middleware"
	"github.com/fanclub/backend/internal/notify"
	"github.com/fanclub/backend/internal/repository"
	"github.com/fanclub/backend/internal/storage/memory"
	"github.com/fanclub/backend/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetPrefix("fanclub")
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stores app.Stores
	if cfg.InMemory() {
		logger.Infof("ENV=memory: using in-process stores, data is lost on restart")
		stores = app.MemoryStores(memory.New())
	} else {
		db, err := database.NewPostgresDB(cfg.GetDSN())
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		logger.Infof("Running database migrations...")
		if err := database.RunMigrations(db.DB); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Infof("Migrations completed successfully")

		stores = app.Stores{
			Chats:    repository.NewChatRepository(db),
			Messages: repository.NewMessageRepository(db),
			Ledger:   repository.NewModerationRepository(db),
			Reports:  repository.NewReportRepository(db),
			Groups:   repository.NewGroupRepository(db),
			Users:    repository.NewUserRepository(db),
		}
	}

	deps := app.Deps{
		Stores: stores,
		Policy: cfg.Moderation,
	}

	if !cfg.InMemory() {
		if closeRedis := startRedis(ctx, cfg, &deps); closeRedis != nil {
			defer closeRedis()
		}
	}

	services := app.New(deps)

	go func() {
		if err := services.Bot.Run(ctx); err != nil {
			logger.Errorf("Moderation bot stopped: %v", err)
		}
	}()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	hub := websocket.NewHub()
	go hub.Run(ctx)
	services.Ledger.OnRecord(hub.NotifyModeration)
	wsHandler := websocket.NewHandler(hub, jwtService, services.Messages, cfg.CORS.AllowedOrigins, cfg.API.RateLimitMessagesPerSec)

	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec)
	rateLimiter.Cleanup(ctx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Services:    services,
		Users:       stores.Users,
		JWT:         jwtService,
		RateLimiter: rateLimiter,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		WebSocket:   wsHandler.HandleWebSocket,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting fan chat server on %s (env: %s)", srv.Addr, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
}

// startRedis wires Redis as broker, restriction cache, report limiter and
// notification channel. Without Redis the memory fallbacks stay in place and
// the returned close func is nil.
func startRedis(ctx context.Context, cfg *config.Config, deps *app.Deps) func() error {
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Errorf("Failed to connect to Redis: %v", err)
		logger.Infof("Running without Redis: live events stay in this process, no push notifications")
		return nil
	}

	deps.Broker = redis
	deps.Cache = redis
	deps.Limiter = redis
	deps.Notifier = notify.NewRedisPublisher(redis)

	if cfg.Firebase.CredentialsPath != "" {
		fcm, err := notify.NewFCMClient(ctx, cfg.Firebase.CredentialsPath)
		if err != nil {
			logger.Errorf("Push notifications disabled: %v", err)
		} else {
			dispatcher := notify.NewFCMDispatcher(redis, fcm)
			go func() {
				if err := dispatcher.Run(ctx); err != nil {
					logger.Errorf("FCM dispatcher stopped: %v", err)
				}
			}()
		}
	}
	return redis.Close
}
