// Command worker runs the ingestion process: it polls its work pool for
// scheduled and ad-hoc flow runs and executes them against the shared store.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/OpenParlCA/OP-Backend/internal/apikeys"
	"github.com/OpenParlCA/OP-Backend/internal/cache"
	"github.com/OpenParlCA/OP-Backend/internal/catalogue"
	"github.com/OpenParlCA/OP-Backend/internal/config"
	"github.com/OpenParlCA/OP-Backend/internal/db"
	"github.com/OpenParlCA/OP-Backend/internal/enrichment"
	"github.com/OpenParlCA/OP-Backend/internal/flow"
	"github.com/OpenParlCA/OP-Backend/internal/ingest"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	db.Connect(cfg.DatabaseURL)
	parl.RegisterMigrations()
	flow.RegisterMigrations()
	apikeys.RegisterMigrations()
	prefs.RegisterMigrations()
	if err := db.Migrate(db.DB); err != nil {
		log.Fatal("migrations failed: ", err)
	}

	var store cache.Store
	if cfg.CacheURL == "" {
		store = cache.NewMemory()
	} else {
		store, err = cache.NewRedis(cfg.CacheURL)
		if err != nil {
			log.Fatal("cache unreachable: ", err)
		}
	}

	// One bucket per source, shared by every adapter instance in-process.
	buckets := ratelimit.NewRegistry()
	cat := catalogue.NewClient(
		cfg.CatalogueBaseURL, cfg.Jurisdiction,
		buckets.Get(catalogue.SourceName, cfg.CatalogueRate, cfg.CatalogueBurst),
		cfg.RequestTimeout, cfg.RateAcquireWait,
	)
	enr := enrichment.NewClient(
		cfg.EnrichmentBaseURL,
		buckets.Get(enrichment.SourceName, cfg.EnrichmentRate, cfg.EnrichmentBurst),
		cfg.RequestTimeout, cfg.RateAcquireWait,
	)

	bills := parl.NewBillRepo(db.DB)
	politicians := parl.NewPoliticianRepo(db.DB)
	logs := parl.NewFetchLogRepo(db.DB)

	services := ingest.Services{
		Bills:       ingest.NewBillService(cat, enr, bills, politicians, logs, cfg.IngestFanOut),
		Politicians: ingest.NewPoliticianService(cat, politicians, logs),
		Votes:       ingest.NewVoteService(cat, parl.NewVoteRepo(db.DB), bills, politicians, logs, cfg.IngestFanOut),
		Committees:  ingest.NewCommitteeService(cat, parl.NewCommitteeRepo(db.DB), logs, cfg.IngestFanOut),
		Debates:     ingest.NewDebateService(cat, parl.NewDebateRepo(db.DB), politicians, logs, cfg.IngestFanOut),
	}

	registry, err := ingest.BuildRegistry(services, cfg.Jurisdiction, cfg.WorkPool, cfg.Parliament, cfg.Session)
	if err != nil {
		log.Fatal("flow registry: ", err)
	}

	worker := &flow.Worker{
		Store:        flow.NewRunStore(db.DB),
		Registry:     registry,
		Cache:        store,
		Pool:         cfg.WorkPool,
		Name:         cfg.WorkerName,
		PollInterval: cfg.PollInterval,
		TaskLimit:    cfg.TaskLimit,
		TaskTimeout:  cfg.TaskTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker %s polling pool %s", cfg.WorkerName, cfg.WorkPool)
	if err := worker.Start(ctx); err != nil {
		log.Fatal("worker: ", err)
	}
}
