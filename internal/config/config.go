package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds every runtime option for the API server and the ingestion
// worker. One instance is assembled at startup and passed through
// constructors; nothing reads the environment after boot.
type Config struct {
	// Core wiring
	Port         string `yaml:"port"`
	DatabaseURL  string `yaml:"database_url"`
	CacheURL     string `yaml:"cache_url"` // redis://...; empty = in-memory cache
	Jurisdiction string `yaml:"jurisdiction"`

	// Upstream sources
	CatalogueBaseURL  string        `yaml:"catalogue_base_url"`
	EnrichmentBaseURL string        `yaml:"enrichment_base_url"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	// Per-source rate limits (requests per second + burst)
	CatalogueRate    float64 `yaml:"catalogue_rate"`
	CatalogueBurst   int     `yaml:"catalogue_burst"`
	EnrichmentRate   float64 `yaml:"enrichment_rate"`
	EnrichmentBurst  int     `yaml:"enrichment_burst"`
	RateAcquireWait  time.Duration `yaml:"rate_acquire_wait"`

	// Target session for scheduled syncs
	Parliament int `yaml:"parliament"`
	Session    int `yaml:"session"`

	// Scheduler / worker
	WorkPool       string        `yaml:"work_pool"`
	WorkerName     string        `yaml:"worker_name"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	TaskLimit      int           `yaml:"task_limit"`    // concurrent tasks per run
	TaskTimeout    time.Duration `yaml:"task_timeout"`  // soft per-task timeout
	IngestFanOut   int           `yaml:"ingest_fan_out"`

	// API behaviour
	APITimeout    time.Duration `yaml:"api_timeout"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	EmbeddingDims int           `yaml:"embedding_dims"`

	// Feeds
	FeedRebuildBudget int `yaml:"feed_rebuild_budget"` // rebuilds per scope per hour
	FeedIPLimit       int `yaml:"feed_ip_limit"`       // req/hour per source IP
	FeedTokenLimit    int `yaml:"feed_token_limit"`    // req/hour per personalization token
	FeedGlobalLimit   int `yaml:"feed_global_limit"`   // responses/hour per process
}

// Default returns the zero-configuration setup: in-process sqlite store,
// in-memory cache, public upstream endpoints. Every field has a working value
// so a bare `go run .` boots in development mode.
func Default() Config {
	return Config{
		Port:              "5050",
		Jurisdiction:      "ca-federal",
		CatalogueBaseURL:  "https://api.openparliament.ca",
		EnrichmentBaseURL: "https://www.parl.ca",
		RequestTimeout:    30 * time.Second,
		CatalogueRate:     2.0,
		CatalogueBurst:    10,
		EnrichmentRate:    0.5,
		EnrichmentBurst:   2,
		RateAcquireWait:   30 * time.Second,
		Parliament:        45,
		Session:           1,
		WorkPool:          "ingest-default",
		WorkerName:        hostnameOr("worker-local"),
		PollInterval:      5 * time.Second,
		TaskLimit:         10,
		TaskTimeout:       10 * time.Minute,
		IngestFanOut:      5,
		APITimeout:        10 * time.Second,
		CORSOrigins:       []string{"http://localhost:5173"},
		EmbeddingDims:     384,
		FeedRebuildBudget: 12,
		FeedIPLimit:       60,
		FeedTokenLimit:    30,
		FeedGlobalLimit:   1000,
	}
}

// LoadFromEnv builds a Config from Default(), an optional YAML file named by
// CONFIG_FILE, then environment variable overrides (highest precedence).
//
// Environment variables:
//   - PORT, DATABASE_URL, CACHE_URL, JURISDICTION
//   - CATALOGUE_BASE_URL, ENRICHMENT_BASE_URL, REQUEST_TIMEOUT
//   - CATALOGUE_RATE, CATALOGUE_BURST, ENRICHMENT_RATE, ENRICHMENT_BURST
//   - PARLIAMENT, SESSION
//   - WORK_POOL, WORKER_NAME, POLL_INTERVAL, TASK_LIMIT, TASK_TIMEOUT
//   - API_TIMEOUT, CORS_ORIGINS (comma-separated), EMBEDDING_DIMS
//   - FEED_REBUILD_BUDGET, FEED_IP_LIMIT, FEED_TOKEN_LIMIT, FEED_GLOBAL_LIMIT
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	setStr(&cfg.Port, "PORT")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.CacheURL, "CACHE_URL")
	setStr(&cfg.Jurisdiction, "JURISDICTION")
	setStr(&cfg.CatalogueBaseURL, "CATALOGUE_BASE_URL")
	setStr(&cfg.EnrichmentBaseURL, "ENRICHMENT_BASE_URL")
	setDur(&cfg.RequestTimeout, "REQUEST_TIMEOUT")
	setFloat(&cfg.CatalogueRate, "CATALOGUE_RATE")
	setInt(&cfg.CatalogueBurst, "CATALOGUE_BURST")
	setFloat(&cfg.EnrichmentRate, "ENRICHMENT_RATE")
	setInt(&cfg.EnrichmentBurst, "ENRICHMENT_BURST")
	setDur(&cfg.RateAcquireWait, "RATE_ACQUIRE_WAIT")
	setInt(&cfg.Parliament, "PARLIAMENT")
	setInt(&cfg.Session, "SESSION")
	setStr(&cfg.WorkPool, "WORK_POOL")
	setStr(&cfg.WorkerName, "WORKER_NAME")
	setDur(&cfg.PollInterval, "POLL_INTERVAL")
	setInt(&cfg.TaskLimit, "TASK_LIMIT")
	setDur(&cfg.TaskTimeout, "TASK_TIMEOUT")
	setInt(&cfg.IngestFanOut, "INGEST_FAN_OUT")
	setDur(&cfg.APITimeout, "API_TIMEOUT")
	setInt(&cfg.EmbeddingDims, "EMBEDDING_DIMS")
	setInt(&cfg.FeedRebuildBudget, "FEED_REBUILD_BUDGET")
	setInt(&cfg.FeedIPLimit, "FEED_IP_LIMIT")
	setInt(&cfg.FeedTokenLimit, "FEED_TOKEN_LIMIT")
	setInt(&cfg.FeedGlobalLimit, "FEED_GLOBAL_LIMIT")

	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot work at all. Missing DATABASE_URL
// is allowed (development mode falls back to sqlite).
func (c Config) Validate() error {
	if c.Jurisdiction == "" {
		return fmt.Errorf("jurisdiction must not be empty")
	}
	if c.CatalogueRate <= 0 || c.EnrichmentRate <= 0 {
		return fmt.Errorf("source rate limits must be positive")
	}
	if c.TaskLimit < 1 {
		return fmt.Errorf("task_limit must be at least 1")
	}
	if c.IngestFanOut < 1 {
		return fmt.Errorf("ingest_fan_out must be at least 1")
	}
	if c.FeedRebuildBudget < 1 {
		return fmt.Errorf("feed_rebuild_budget must be at least 1")
	}
	return nil
}

// DevMode reports whether the process runs against the local in-process store.
func (c Config) DevMode() bool { return c.DatabaseURL == "" }

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
