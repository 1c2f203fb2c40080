// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported mirror store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// secretKeySize is the credential sealing key length (AES-256).
const secretKeySize = 32

// SourceEndpoint is the base URL of the aggregator serving one region.
type SourceEndpoint struct {
	Region  string
	BaseURL string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	SourceEndpoints []SourceEndpoint
	DefaultRegion   string
	SourceClientID  string
	SourceSecret    string
	SecretKey       []byte

	PageTimeout    time.Duration
	SyncRetryMax   int
	Workers        int
	QueueCapacity  int
	BatchSize      int
	RepollInterval time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a validated Config.
// Required: TXMIRROR_SOURCE_ENDPOINTS, TXMIRROR_SECRET_KEY, and TXMIRROR_DATABASE_URL
// when TXMIRROR_DB_DRIVER is postgres. Everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("TXMIRROR_LISTEN_ADDR", "127.0.0.1:8080"),
		DBDriver:       strings.ToLower(envOr("TXMIRROR_DB_DRIVER", DriverSQLite)),
		DBPath:         envOr("TXMIRROR_DB_PATH", "txmirror.db"),
		DatabaseURL:    os.Getenv("TXMIRROR_DATABASE_URL"),
		SourceClientID: os.Getenv("TXMIRROR_SOURCE_CLIENT_ID"),
		SourceSecret:   os.Getenv("TXMIRROR_SOURCE_SECRET"),
		LogFormat:      strings.ToLower(envOr("TXMIRROR_LOG_FORMAT", "json")),
	}

	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("TXMIRROR_DATABASE_URL is required when TXMIRROR_DB_DRIVER is postgres")
		}
	default:
		return nil, fmt.Errorf("TXMIRROR_DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}

	endpoints, err := parseEndpoints(os.Getenv("TXMIRROR_SOURCE_ENDPOINTS"))
	if err != nil {
		return nil, err
	}
	cfg.SourceEndpoints = endpoints

	cfg.DefaultRegion = strings.ToLower(strings.TrimSpace(os.Getenv("TXMIRROR_DEFAULT_REGION")))
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = endpoints[0].Region
	} else if !hasRegion(endpoints, cfg.DefaultRegion) {
		return nil, fmt.Errorf("TXMIRROR_DEFAULT_REGION %q has no entry in TXMIRROR_SOURCE_ENDPOINTS", cfg.DefaultRegion)
	}

	cfg.SecretKey, err = parseSecretKey(os.Getenv("TXMIRROR_SECRET_KEY"))
	if err != nil {
		return nil, err
	}

	if cfg.PageTimeout, err = durationEnv("TXMIRROR_PAGE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RepollInterval, err = durationEnv("TXMIRROR_REPOLL_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SyncRetryMax, err = intEnv("TXMIRROR_SYNC_RETRY_MAX", 3, 0); err != nil {
		return nil, err
	}
	if cfg.Workers, err = intEnv("TXMIRROR_WORKERS", 4, 1); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity, err = intEnv("TXMIRROR_QUEUE_CAPACITY", 1024, 1); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("TXMIRROR_BATCH_SIZE", 1, 1); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("TXMIRROR_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("TXMIRROR_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TXMIRROR_LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

// Regions returns the configured regions in declaration order.
func (c *Config) Regions() []string {
	regions := make([]string, 0, len(c.SourceEndpoints))
	for _, e := range c.SourceEndpoints {
		regions = append(regions, e.Region)
	}
	return regions
}

// parseEndpoints reads "region=url,region=url".
func parseEndpoints(raw string) ([]SourceEndpoint, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("TXMIRROR_SOURCE_ENDPOINTS is required")
	}

	var endpoints []SourceEndpoint
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		region, baseURL, ok := strings.Cut(pair, "=")
		region = strings.ToLower(strings.TrimSpace(region))
		baseURL = strings.TrimSpace(baseURL)
		if !ok || region == "" || baseURL == "" {
			return nil, fmt.Errorf("TXMIRROR_SOURCE_ENDPOINTS entry %q: expected region=url", pair)
		}

		u, err := url.Parse(baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("TXMIRROR_SOURCE_ENDPOINTS entry %q: invalid url", pair)
		}
		if hasRegion(endpoints, region) {
			return nil, fmt.Errorf("TXMIRROR_SOURCE_ENDPOINTS: duplicate region %q", region)
		}

		endpoints = append(endpoints, SourceEndpoint{Region: region, BaseURL: strings.TrimRight(baseURL, "/")})
	}

	if len(endpoints) == 0 {
		return nil, errors.New("TXMIRROR_SOURCE_ENDPOINTS is required")
	}
	return endpoints, nil
}

// parseSecretKey accepts the key as hex or standard base64.
func parseSecretKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("TXMIRROR_SECRET_KEY is required")
	}

	if key, err := hex.DecodeString(raw); err == nil && len(key) == secretKeySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == secretKeySize {
		return key, nil
	}

	return nil, fmt.Errorf("TXMIRROR_SECRET_KEY must be %d bytes encoded as hex or base64", secretKeySize)
}

func hasRegion(endpoints []SourceEndpoint, region string) bool {
	for _, e := range endpoints {
		if e.Region == region {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	if v == "0" {
		return 0, nil
	}

	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, v)
	}
	return parsed, nil
}

func intEnv(key string, fallback, minimum int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed < minimum {
		return 0, fmt.Errorf("%s must be at least %d, got %d", key, minimum, parsed)
	}
	return parsed, nil
}
