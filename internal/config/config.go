package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	RedisPoolSize       int           `mapstructure:"REDIS_POOL_SIZE"`
	CacheTTL            time.Duration `mapstructure:"CACHE_TTL"`
	SimilarityThreshold float64       `mapstructure:"SIMILARITY_THRESHOLD"`
	IDMaxAttempts       int           `mapstructure:"ID_MAX_ATTEMPTS"`
	IDClaimTTL          time.Duration `mapstructure:"ID_CLAIM_TTL"`
	StoreTimeout        time.Duration `mapstructure:"STORE_TIMEOUT"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	WorkerCount         int           `mapstructure:"WORKER_COUNT"`
	WorkerQueueSize     int           `mapstructure:"WORKER_QUEUE_SIZE"`
	AuthSecret          string        `mapstructure:"AUTH_SECRET"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthKeyCacheSize    int           `mapstructure:"AUTH_KEY_CACHE_SIZE"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	MetricsEnabled      bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_POOL_SIZE",
	"CACHE_TTL", "SIMILARITY_THRESHOLD", "ID_MAX_ATTEMPTS", "ID_CLAIM_TTL", "STORE_TIMEOUT", "REQUEST_TIMEOUT",
	"WORKER_COUNT", "WORKER_QUEUE_SIZE",
	"AUTH_SECRET", "AUTH_ISSUER", "AUTH_KEY_CACHE_SIZE",
	"CORS_ORIGINS", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("CACHE_TTL", 300*time.Second)
	v.SetDefault("SIMILARITY_THRESHOLD", 0.92)
	v.SetDefault("ID_MAX_ATTEMPTS", 50)
	v.SetDefault("ID_CLAIM_TTL", 60*time.Second)
	v.SetDefault("STORE_TIMEOUT", 5*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("WORKER_COUNT", 2)
	v.SetDefault("WORKER_QUEUE_SIZE", 256)
	v.SetDefault("AUTH_KEY_CACHE_SIZE", 16)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RelationalEnabled reports whether a Postgres DSN was configured. Without
// one the engine runs against the key-value store alone.
func (c *Config) RelationalEnabled() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a signing secret and a shared Redis are mandatory.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSecret == "" {
			return fmt.Errorf("AUTH_SECRET is required when ENV=%q", c.Env)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when ENV=%q", c.Env)
		}
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0,1], got %v", c.SimilarityThreshold)
	}
	if c.IDMaxAttempts < 1 {
		return fmt.Errorf("ID_MAX_ATTEMPTS must be positive, got %d", c.IDMaxAttempts)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative")
	}
	if c.WorkerQueueSize < 0 || c.WorkerCount < 0 {
		return fmt.Errorf("WORKER_COUNT and WORKER_QUEUE_SIZE must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
