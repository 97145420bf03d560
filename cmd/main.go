package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/graham924/blog-feng-yu/internal/access"
	"github.com/graham924/blog-feng-yu/internal/cache"
	"github.com/graham924/blog-feng-yu/internal/config"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/handler"
	"github.com/graham924/blog-feng-yu/internal/hub"
	"github.com/graham924/blog-feng-yu/internal/metrics"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/internal/sanitize"
	"github.com/graham924/blog-feng-yu/internal/service"
	"github.com/graham924/blog-feng-yu/internal/upload"
	"github.com/graham924/blog-feng-yu/pkg/database"
	"github.com/graham924/blog-feng-yu/pkg/jwt"
	pkglog "github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/middleware"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
	"github.com/graham924/blog-feng-yu/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "blog"})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		TimeZone:        cfg.Database.TimeZone,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	// Redis carries rule invalidations and like sets. Without it each
	// instance only refreshes on its own ticker.
	var (
		redisClient *redis.Client
		redisBus    *pubsub.RedisPubSub
		rulesBus    pubsub.Publisher
		likes       cache.LikeCache
	)
	if rc, err := pubsub.NewRedisClient(ctx, cfg.Redis); err != nil {
		logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable, cross-instance rule refresh and like sets disabled")
	} else {
		redisClient = rc
		defer redisClient.Close()
		redisBus = pubsub.NewRedisPubSub(redisClient)
		defer redisBus.Close()
		rulesBus = redisBus
		likes = cache.NewRedisLikeCache(redisClient, "blog")
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	// Kafka receives chat activity for downstream consumers.
	var chatOpts []service.ChatOption
	if cfg.Kafka.Enabled {
		producer, err := pubsub.NewKafkaPublisher(cfg.Kafka, pubsub.ChannelChatEvents)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka publisher, chat events disabled")
		} else {
			defer producer.Close()
			chatOpts = append(chatOpts, service.WithPublisher(producer))
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Msg("kafka publisher ready")
		}
	}

	store, err := storage.New(ctx, cfg.Storage.Config)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	tokens, err := jwt.NewManager(cfg.JWT.KeyPath, cfg.JWT.AccessDuration, cfg.JWT.RefreshDuration, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize token manager")
	}
	if cfg.JWT.KeyPath == "" {
		logger.Warn().Msg("no jwt key configured, tokens will not survive a restart")
	}

	m := metrics.New(nil)

	// Repositories
	chatRepo := repository.NewGormChatRecordRepository(db)
	userRepo := repository.NewGormUserRepository(db)
	resourceRepo := repository.NewGormResourceRepository(db)

	// Access rules
	engine := access.NewEngine(resourceRepo, m)
	resourceService := service.NewResourceService(resourceRepo, engine, rulesBus)

	seed := make([]domain.AccessRule, 0, len(cfg.Access.SeedRules))
	for _, r := range cfg.Access.SeedRules {
		seed = append(seed, domain.AccessRule{PathPattern: r.Path, Method: r.Method, Roles: r.Roles})
	}
	if n, err := resourceService.SeedIfEmpty(ctx, seed); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed access rules")
	} else if n > 0 {
		logger.Info().Int("rules", n).Msg("seeded access rules")
	}
	if n, err := engine.Refresh(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load access rules")
	} else {
		logger.Info().Int("rules", n).Msg("access rules loaded")
	}

	// Services
	authService := service.NewAuthService(userRepo, tokens, likes)
	if cfg.Admin.Username != "" {
		created, err := authService.EnsureUser(ctx, cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.Nickname, []string{"admin"})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create admin user")
		}
		if created {
			logger.Info().Str(pkglog.FieldUsername, cfg.Admin.Username).Msg("created admin user")
		}
	}

	registry := hub.NewRegistry()
	chatService := service.NewChatService(
		registry,
		hub.NewBroadcaster(registry, m),
		chatRepo,
		sanitize.New(cfg.Sanitize.SensitiveWords),
		upload.NewUploader(store, cfg.Storage.VoicePath, cfg.Storage.URLExpiry),
		m,
		cfg.WebSocket.HistoryWindow,
		chatOpts...,
	)

	// Background loops
	g, gCtx := errgroup.WithContext(ctx)

	var ruleEvents <-chan *pubsub.Event
	if redisBus != nil {
		ch, err := redisBus.Subscribe(gCtx, pubsub.ChannelAccessRules)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to subscribe to rule invalidations")
		} else {
			ruleEvents = ch
		}
	}
	g.Go(func() error {
		engine.Run(pkglog.WithComponent(gCtx, "access"), cfg.Access.RefreshInterval, ruleEvents)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				tokens.CleanupExpiredRevocations()
			}
		}
	})

	// Handlers
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	wsHandler := handler.NewWSHandler(chatService, cfg.WebSocket)
	httpHandler := handler.NewHandler(authService, resourceService, chatService, authMiddleware,
		cfg.WebSocket.IPHeader, cfg.Storage.MaxVoiceSize)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": chatService.OnlineCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == "local" {
		router.Static(cfg.Storage.Local.PublicURL, cfg.Storage.Local.BasePath)
	}

	api := router.Group("/")
	api.Use(authMiddleware.Authenticate(), access.Middleware(engine, m))
	wsHandler.RegisterRoutes(api)
	httpHandler.RegisterRoutes(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("blog server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down blog server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	// Hijacked chat connections are not closed by Shutdown.
	for _, c := range registry.Snapshot() {
		chatService.Close(shutdownCtx, c)
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("background task failed")
	}

	logger.Info().Msg("blog server stopped")
}
