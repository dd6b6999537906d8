package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/config"
	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
	"github.com/SonGiHyeon/CV-API/internal/ratelimit"
	"github.com/SonGiHyeon/CV-API/internal/security"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default ./attribution.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := monitoring.NewLoggerWithOptions(os.Stdout, monitoring.ParseLevel(cfg.Log.Level))
	slog.SetDefault(appLogger.Logger)
	appMetrics := monitoring.NewMetrics()

	gin.SetMode(cfg.Server.Mode)

	db, err := database.NewDB(cfg.Storage.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer errors.SafeClose(db, "database")

	repo := database.NewRepository(db)
	corpus := cache.NewCorpusCache(repo, cfg.Corpus.CacheTTL, appMetrics).WithLogger(appLogger)
	svc := ledger.NewService(repo, corpus, ids.NewUUIDGenerator(), cfg.Ledger(), appLogger, appMetrics)

	redisClient, err := ratelimit.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		// the limiter keeps working in memory
		slog.Warn("Redis unavailable", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis")

	limiter := ratelimit.NewRateLimiter(redisClient, cfg.Limiter(), appMetrics)
	defer limiter.Close()

	secCfg := security.DefaultSecurityConfig()
	secCfg.AllowedOrigins = cfg.Server.CORSOrigins

	r := setupRouter(&server{
		svc:     svc,
		db:      db,
		corpus:  corpus,
		limiter: limiter,
		redis:   redisClient,
		metrics: appMetrics,
		logger:  appLogger,
	}, secCfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		appLogger.SystemLogger("startup", "listening on :"+cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}
