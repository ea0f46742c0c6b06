// One-shot estimation for a single card: fetches every source through
// the gateway, reconciles, and prints the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/gateway"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/pkg/logger"
	"github.com/cardgate/cardgate/internal/provider"
	"github.com/cardgate/cardgate/internal/ratelimit"
	"github.com/cardgate/cardgate/internal/reconcile"
	"github.com/cardgate/cardgate/internal/repository"
	"github.com/cardgate/cardgate/internal/service"
)

func main() {
	setID := flag.String("set", "", "set id (e.g. base1)")
	number := flag.String("number", "", "card number within the set")
	name := flag.String("name", "", "card name, used for search-based providers")
	segment := flag.String("segment", "", "pricing segment for ratio overrides")
	flag.Parse()

	if *setID == "" || *number == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init("warn")

	var cacheStore gateway.CacheStore
	var ledger gateway.ThrottleLedger
	if cfg.Redis.Addr != "" {
		if redisClient, err := repository.NewRedisClient(cfg); err == nil {
			cacheStore = repository.NewRedisCacheStore(redisClient)
			ledger = repository.NewRedisThrottleLedger(redisClient)
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

	prices := []provider.PriceFetcher{
		provider.NewPriceCharting(cfg.Providers.PriceCharting),
		provider.NewEbay(cfg.Providers.Ebay),
		provider.NewPokemonTCG(cfg.Providers.PokemonTCG),
		provider.NewCardmarket(cfg.Providers.Cardmarket),
	}

	ingestor := service.NewIngestor(
		cfg,
		gateway.New(cacheStore, ledger, cfg.Cache),
		ratelimit.NewReservoir(cfg.RateLimit),
		store,
		reconcile.NewEngine(cfg.Reconcile),
		prices,
		provider.NewPSA(cfg.Providers.PSA),
	)

	card := model.TrackedCard{
		Key:     model.CardKey{SetID: *setID, Number: *number, Name: *name},
		Segment: *segment,
	}
	report, err := ingestor.IngestCard(context.Background(), card, service.NewBudget(0))
	if err != nil {
		log.Fatalf("Estimation failed: %v", err)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
