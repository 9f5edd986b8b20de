package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"veridoc/verification-backend/internal/analytics"
	"veridoc/verification-backend/internal/api"
	"veridoc/verification-backend/internal/config"
	"veridoc/verification-backend/internal/documents"
	"veridoc/verification-backend/internal/events"
	"veridoc/verification-backend/internal/verification"
	"veridoc/verification-backend/internal/verification/providers"
)

func main() {
	// .env is optional; container deployments inject real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	}

	repo := verification.NewRepository(db)
	docs := documents.NewStore(db)

	adapters := map[verification.Type]providers.Adapter{
		verification.TypeAIForensics: providers.NewAIForensicsAdapter(providerConfig(cfg.Providers.AIForensics), logger),
		verification.TypeBlockchain:  providers.NewBlockchainAdapter(providerConfig(cfg.Providers.Blockchain), logger),
		verification.TypeIPFS:        providers.NewIPFSAdapter(providerConfig(cfg.Providers.IPFS), logger),
		verification.TypeManual:      providers.NewManualAdapter(providerConfig(cfg.Providers.Manual), logger),
	}

	access := verification.NewAccessService(repo, docs)
	broadcaster := events.NewBroadcaster(access, logger)
	defer broadcaster.Close()
	wsManager := events.NewWSManager(broadcaster, logger)
	defer wsManager.Close()

	orchestrator := verification.NewOrchestrator(repo, docs, adapters, broadcaster, verification.Config{
		MaxRetries:     cfg.Verification.MaxRetries,
		RetryBaseDelay: cfg.Verification.RetryBaseDelay,
		RetryMaxDelay:  cfg.Verification.RetryMaxDelay,
		RequestTTL:     cfg.Verification.RequestTTL,
		WebhookBaseURL: cfg.Server.PublicBaseURL,
	}, logger)
	defer orchestrator.Close()

	correlator := verification.NewCorrelator(orchestrator, logger)

	sweeper := verification.NewSweeper(orchestrator, repo, cfg.Verification.SweepInterval, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	var cache analytics.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, analytics cache degraded to in-process", zap.Error(err))
			cache = analytics.NewMemoryCache()
		} else {
			cache = analytics.NewRedisCache(client, logger)
			defer client.Close()
		}
	} else {
		cache = analytics.NewMemoryCache()
	}
	defer cache.Close()
	aggregator := analytics.NewAggregator(analytics.NewRepository(db), cache, cfg.Analytics.CacheTTL, logger)

	handler := api.NewHandler(orchestrator, correlator, wsManager,
		cfg.Security.JWTSecret, cfg.Security.WebhookRatePerSecond, cfg.Security.WebhookBurst, logger)
	analyticsHandler := analytics.NewHandler(aggregator, logger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	handler.RegisterRoutes(v1)

	authed := v1.Group("")
	authed.Use(api.AuthMiddleware(cfg.Security.JWTSecret))
	analyticsHandler.RegisterRoutes(authed)

	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func providerConfig(p config.ProviderConfig) providers.Config {
	return providers.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Timeout: p.Timeout}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if level != "" {
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			cfg.Level = lvl
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
