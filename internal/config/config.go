package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "BalanceEngine"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultBalanceCacheTTL = 60 * time.Second
	defaultWalletBatchSize = 100
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	balanceCacheTTLEnvVar  = "BALANCE_CACHE_TTL"
	walletBatchSizeEnvVar  = "WALLET_BATCH_SIZE"
	dbMaxConnsEnvVar       = "DB_MAX_CONNS"
	requireSignEnvVar      = "SEAMLESS_REQUIRE_SIGNATURE"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	SeamlessSecret  string
	BalanceCacheTTL time.Duration
	WalletBatchSize int
	DBMaxConns      int32

	// RequireSignature rejects unsigned webhook calls instead of accepting them.
	RequireSignature bool
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	return load(true)
}

// LoadTooling is Load for operator tooling that never serves the webhook, so
// SEAMLESS_SECRET_KEY may be absent.
func LoadTooling() (Config, error) {
	return load(false)
}

func load(requireSecret bool) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		SeamlessSecret:  os.Getenv("SEAMLESS_SECRET_KEY"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		BalanceCacheTTL: defaultBalanceCacheTTL,
		WalletBatchSize: defaultWalletBatchSize,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	// BALANCE_CACHE_TTL takes either a bare number of seconds or a Go duration.
	if cfg.BalanceCacheTTL, err = durationEnv(balanceCacheTTLEnvVar, balanceCacheTTLEnvVar, cfg.BalanceCacheTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv(walletBatchSizeEnvVar); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", walletBatchSizeEnvVar, v)
		}
		cfg.WalletBatchSize = n
	}

	if v := os.Getenv(requireSignEnvVar); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", requireSignEnvVar, err)
		}
		cfg.RequireSignature = b
	}

	if v := os.Getenv(dbMaxConnsEnvVar); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", dbMaxConnsEnvVar, v)
		}
		cfg.DBMaxConns = int32(n)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if requireSecret && cfg.SeamlessSecret == "" {
		return Config{}, fmt.Errorf("SEAMLESS_SECRET_KEY must be set")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv reads secondsKey as whole seconds, falling back to durationKey
// as a time.ParseDuration string.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second, nil
		} else if secondsKey != durationKey {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
