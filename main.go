package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"memberlock.app/cloud/handlers"
	"memberlock.app/cloud/internal/config"
	"memberlock.app/cloud/internal/logger"
	"memberlock.app/cloud/internal/ratelimit"
	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/storage"
	"memberlock.app/cloud/token"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %s", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
	}

	var store storage.Storage
	if cfg.DatabaseURL != "" {
		store, err = storage.NewSQLiteStorage(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("storage: %s", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		store = storage.NewMemoryStorage()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", map[string]interface{}{"error": err.Error()})
		}
	}()

	server := handlers.NewServer(store, token.NewHub(), lock.SystemClock())

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor"},
	}))
	r.Use(ratelimit.Middleware(ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)))
	r.Use(server.CountRequests)
	r.Use(recoverer)
	r.Mount("/", server.Routes())

	logger.Info("Memberlock Cloud API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}

// recoverer reports panics to sentry and returns 500 instead of tearing
// down the process.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().Recover(rec)
				logger.Error("panic in handler", map[string]interface{}{
					"path":  r.URL.Path,
					"panic": rec,
				})
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
