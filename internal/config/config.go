package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"beacon-tracker/internal/eta"
	"beacon-tracker/internal/sampler"
)

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	NATSURL         string
	LogNATSSubjects bool

	HTTPAddr    string
	MetricsAddr string

	FusionInterval  time.Duration
	RefreshInterval time.Duration
	StalenessWindow time.Duration
	HeartbeatTTL    time.Duration

	DefaultSpeedMps    float64
	ETABufferFactor    float64
	ApproachingMinutes int

	SampleBaseInterval   time.Duration
	SampleMinInterval    time.Duration
	SampleMaxInterval    time.Duration
	StationaryThresholdM float64
	HighAccuracy         bool

	RateLimitRPS   int
	RateLimitBurst int
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Left empty when no PGDATABASE is given; only the tracker needs it.
	dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if db == "" {
			// no database configured
		} else if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS")

	cfg.HTTPAddr = ":" + getenvDefault("PORT", "8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	var err error
	if cfg.FusionInterval, err = msEnv("FUSION_INTERVAL_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = secEnv("VEHICLE_REFRESH_INTERVAL_SEC", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StalenessWindow, err = msEnv("STALENESS_WINDOW_MS", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTTL, err = secEnv("BEACON_HEARTBEAT_TTL_SEC", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.DefaultSpeedMps, err = floatEnv("DEFAULT_SPEED_MPS", 8.33); err != nil {
		return nil, err
	}
	if cfg.ETABufferFactor, err = floatEnv("ETA_BUFFER_FACTOR", 1.2); err != nil {
		return nil, err
	}
	if cfg.ApproachingMinutes, err = intEnv("APPROACHING_MINUTES", 5); err != nil {
		return nil, err
	}

	if cfg.SampleBaseInterval, err = msEnv("SAMPLE_BASE_INTERVAL_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SampleMinInterval, err = msEnv("SAMPLE_MIN_INTERVAL_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SampleMaxInterval, err = msEnv("SAMPLE_MAX_INTERVAL_MS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StationaryThresholdM, err = floatEnv("STATIONARY_THRESHOLD_M", 10); err != nil {
		return nil, err
	}
	cfg.HighAccuracy = getenvDefault("HIGH_ACCURACY", "true") != "false"

	if cfg.RateLimitRPS, err = intEnv("RATE_LIMIT_RPS", 2); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 4); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ETA returns the ETA engine configuration.
func (c *Config) ETA() eta.Config {
	return eta.Config{
		DefaultSpeedMps:   c.DefaultSpeedMps,
		BufferFactor:      c.ETABufferFactor,
		ApproachingWithin: time.Duration(c.ApproachingMinutes) * time.Minute,
	}
}

// Sampler returns the adaptive sampler configuration.
func (c *Config) Sampler() sampler.Config {
	return sampler.Config{
		BaseInterval:         c.SampleBaseInterval,
		MinInterval:          c.SampleMinInterval,
		MaxInterval:          c.SampleMaxInterval,
		StationaryThresholdM: c.StationaryThresholdM,
		HighAccuracy:         c.HighAccuracy,
	}
}

func msEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func secEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func boolEnv(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
