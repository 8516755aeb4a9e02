package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	// PhoneRegion is the default region for MSISDNs without a country prefix.
	PhoneRegion string

	// DriverCacheTTL bounds how long a resolved driver phone stays cached.
	DriverCacheTTL time.Duration

	// LockTTL bounds the per-event processing lock.
	LockTTL time.Duration

	Tuning models.ResolutionTuning
}

// Load reads configuration from the environment. A local .env file, if
// present, is folded in first (development convenience; real deployments
// set the environment directly).
func Load() *Config {
	_ = godotenv.Load()

	tuning := models.DefaultTuning()
	tuning.AcceptThreshold = envFloat("ACCEPT_THRESHOLD", tuning.AcceptThreshold)
	tuning.AmbiguityMargin = envFloat("AMBIGUITY_MARGIN", tuning.AmbiguityMargin)
	tuning.WindowBefore = envDuration("WINDOW_BEFORE", tuning.WindowBefore)
	tuning.WindowAfter = envDuration("WINDOW_AFTER", tuning.WindowAfter)
	tuning.AmountTolerancePct = envFloat("AMOUNT_TOLERANCE_PCT", tuning.AmountTolerancePct)
	tuning.LookupTimeout = envDuration("LOOKUP_TIMEOUT", tuning.LookupTimeout)
	if v := os.Getenv("AMOUNT_TOLERANCE_FLOOR"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			tuning.AmountToleranceFloor = d
		}
	}

	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		NatsURL:        os.Getenv("NATS_URL"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Port:           envString("PORT", "8084"),
		PhoneRegion:    envString("PHONE_REGION", "KE"),
		DriverCacheTTL: envDuration("DRIVER_CACHE_TTL", 10*time.Minute),
		LockTTL:        envDuration("LOCK_TTL", 30*time.Second),
		Tuning:         tuning,
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
