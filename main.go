package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/OpenParlCA/OP-Backend/internal/api"
	"github.com/OpenParlCA/OP-Backend/internal/apikeys"
	"github.com/OpenParlCA/OP-Backend/internal/cache"
	"github.com/OpenParlCA/OP-Backend/internal/config"
	"github.com/OpenParlCA/OP-Backend/internal/db"
	"github.com/OpenParlCA/OP-Backend/internal/feeds"
	"github.com/OpenParlCA/OP-Backend/internal/flow"
	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
)

// authFailuresPerHour caps 401 responses per source IP before the edge starts
// pre-blocking, which blunts key enumeration.
const authFailuresPerHour = 30

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(); err != nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "dependency_unavailable", "database unreachable")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

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

	store := openCache(cfg)

	bills := parl.NewBillRepo(db.DB)
	politicians := parl.NewPoliticianRepo(db.DB)
	votes := parl.NewVoteRepo(db.DB)
	committees := parl.NewCommitteeRepo(db.DB)
	debates := parl.NewDebateRepo(db.DB)
	search := parl.NewSearchService(db.DB, nil)
	prefsSvc := prefs.NewService(db.DB)
	keySvc := apikeys.NewService(db.DB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	keySvc.StartUsageFlusher(ctx, 30*time.Second)

	apiHandler := api.NewHandler(bills, politicians, votes, committees, debates, search, prefsSvc, store)
	prefsHandler := prefs.NewHandler(prefsSvc, bills)
	feedSvc := feeds.NewService(feeds.Config{
		Jurisdiction:   cfg.Jurisdiction,
		PublicURL:      "https://openparl.ca",
		RebuildPerHour: cfg.FeedRebuildBudget,
		IPPerHour:      cfg.FeedIPLimit,
		TokenPerHour:   cfg.FeedTokenLimit,
		GlobalPerHour:  cfg.FeedGlobalLimit,
	}, feeds.Repos{
		Bills:       bills,
		Politicians: politicians,
		Votes:       votes,
		Committees:  committees,
		Debates:     debates,
	}, prefsSvc, store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.AnonID)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "Server is up!")
	})
	r.Get("/health", HealthHandler)

	r.Route("/api/v1/{jurisdiction}", func(r chi.Router) {
		r.Use(middleware.AuthFailureThrottle(authFailuresPerHour))
		r.Use(apikeys.Require(keySvc, ratelimit.NewHourly()))
		r.Use(timeoutMiddleware(cfg.APITimeout))
		r.Mount("/", apiHandler.SetupRoutes(prefsHandler))
	})

	r.Route("/feeds/{jurisdiction}", func(r chi.Router) {
		feeds.NewHandler(feedSvc).SetupRoutes(r)
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.APITimeout + 5*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("API server listening on :%s (jurisdiction %s)", cfg.Port, cfg.Jurisdiction)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// openCache picks the cache backend: redis when configured, in-process
// otherwise.
func openCache(cfg config.Config) cache.Store {
	if cfg.CacheURL == "" {
		return cache.NewMemory()
	}
	store, err := cache.NewRedis(cfg.CacheURL)
	if err != nil {
		log.Fatal("cache unreachable: ", err)
	}
	return store
}

// timeoutMiddleware bounds request handling; store-side query cancellation
// rides on the request context.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 10 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
