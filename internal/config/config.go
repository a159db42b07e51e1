package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// DatabaseURL is the SQLite path; empty selects in-memory storage.
	DatabaseURL string

	SentryDSN string

	AllowedOrigins []string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func New() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")

	requests := 120
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("RATE_LIMIT_REQUESTS must be a non-negative integer")
		}
		requests = n
	}

	window := time.Minute
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, errors.New("RATE_LIMIT_WINDOW must be a positive duration")
		}
		window = d
	}

	origins := []string{"*"}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		origins = splitAndTrim(v)
	}

	return &Config{
		Port:              port,
		DatabaseURL:       dbURL,
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		AllowedOrigins:    origins,
		RateLimitRequests: requests,
		RateLimitWindow:   window,
	}, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
