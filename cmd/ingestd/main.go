package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/gateway"
	"github.com/cardgate/cardgate/internal/pkg/logger"
	"github.com/cardgate/cardgate/internal/provider"
	"github.com/cardgate/cardgate/internal/ratelimit"
	"github.com/cardgate/cardgate/internal/reconcile"
	"github.com/cardgate/cardgate/internal/repository"
	"github.com/cardgate/cardgate/internal/service"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	// 2. Initialize Persistence (Redis > Memory for cache/ledger)
	var cacheStore gateway.CacheStore
	var ledger gateway.ThrottleLedger
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			cacheStore = repository.NewRedisCacheStore(redisClient)
			ledger = repository.NewRedisThrottleLedger(redisClient)
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if cacheStore == nil {
		cacheStore = repository.NewMemoryCacheStore()
		ledger = repository.NewMemoryThrottleLedger()
	}

	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	store, err := repository.NewHistoryStore(db)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	logger.Info("Connected to PostgreSQL")

	// 3. Initialize Core Services
	gw := gateway.New(cacheStore, ledger, cfg.Cache)
	limiter := ratelimit.NewReservoir(cfg.RateLimit)
	engine := reconcile.NewEngine(cfg.Reconcile)

	prices := []provider.PriceFetcher{
		provider.NewPriceCharting(cfg.Providers.PriceCharting),
		provider.NewEbay(cfg.Providers.Ebay),
		provider.NewPokemonTCG(cfg.Providers.PokemonTCG),
		provider.NewCardmarket(cfg.Providers.Cardmarket),
	}
	population := provider.NewPSA(cfg.Providers.PSA)

	ingestor := service.NewIngestor(cfg, gw, limiter, store, engine, prices, population)

	// 4. Setup Router (observability surface only)
	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "cardgate", "tokens": limiter.Tokens()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		logger.Info("cardgate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	// 5. Ingestion Loop
	runCtx, cancelRuns := context.WithCancel(context.Background())
	go func() {
		interval := time.Duration(cfg.Ingest.IntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 6 * time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := ingestor.Run(runCtx, service.NewBudget(cfg.Ingest.MaxCalls)); err != nil {
				logger.Error("ingestion run failed", "error", err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")
	cancelRuns()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	logger.Info("Server exiting")
}
