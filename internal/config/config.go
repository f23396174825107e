package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ad server. It is loaded once at
// startup and passed to components at construction.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Analytics  AnalyticsConfig
	Geo        GeoConfig
	Nonce      NonceConfig
	Fraud      FraudConfig
	DoNotTrack DNTConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	Debug           bool
	BaseURL         string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AnalyticsConfig configures the best-effort click analytics sink.
type AnalyticsConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
	Table    string
	Buffer   int
	Timeout  time.Duration
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// NonceConfig bounds the single-use token store.
type NonceConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// FraudConfig holds the click-fraud heuristics.
type FraudConfig struct {
	// ClickRatelimits is a comma separated list of limit specs such as
	// "3/5m,10/1h,25/24h" applied per client IP.
	ClickRatelimits string
	// InternalIPs are never billed.
	InternalIPs []string
	// BlacklistedUserAgents are regular expressions matched against the
	// raw user agent string.
	BlacklistedUserAgents []string
}

// DNTConfig gates the Do Not Track endpoints.
type DNTConfig struct {
	Enabled   bool
	PolicyURL string
}

type AuthConfig struct {
	Enabled  bool
	StaffKey string
}

// RateLimitConfig configures HTTP-level token bucket limiting, separate
// from the per-client click fraud limiter.
type RateLimitConfig struct {
	Enabled    bool
	TrackRPS   float64
	TrackBurst int
	MgmtRPS    float64
	MgmtBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ADSERVER_HTTP_ADDR", ":8080"),
			Env:             getEnv("ADSERVER_ENV", "development"),
			Debug:           getBoolEnv("ADSERVER_DEBUG", false),
			BaseURL:         getEnv("ADSERVER_BASE_URL", "http://localhost:8080"),
			ShutdownTimeout: getDurationEnv("ADSERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ADSERVER_DB_HOST", "localhost"),
			Port:     getIntEnv("ADSERVER_DB_PORT", 5432),
			User:     getEnv("ADSERVER_DB_USER", "adserver"),
			Password: getEnv("ADSERVER_DB_PASSWORD", "adserver_secret"),
			DBName:   getEnv("ADSERVER_DB_NAME", "adserver"),
			SSLMode:  getEnv("ADSERVER_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ADSERVER_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ADSERVER_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ADSERVER_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ADSERVER_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ADSERVER_REDIS_DB", 0),
		},
		Analytics: AnalyticsConfig{
			Enabled:  getBoolEnv("ADSERVER_ANALYTICS_ENABLED", false),
			Addr:     getEnv("ADSERVER_ANALYTICS_ADDR", "localhost:9000"),
			Database: getEnv("ADSERVER_ANALYTICS_DB", "default"),
			Username: getEnv("ADSERVER_ANALYTICS_USER", "default"),
			Password: getEnv("ADSERVER_ANALYTICS_PASSWORD", ""),
			Table:    getEnv("ADSERVER_ANALYTICS_TABLE", "analytics_events"),
			Buffer:   getIntEnv("ADSERVER_ANALYTICS_BUFFER", 1024),
			Timeout:  getDurationEnv("ADSERVER_ANALYTICS_TIMEOUT", 5*time.Second),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("ADSERVER_GEO_ENABLED", false),
			DatabasePath: getEnv("ADSERVER_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("ADSERVER_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("ADSERVER_GEO_CACHE_TTL", 1*time.Hour),
		},
		Nonce: NonceConfig{
			TTL:        getDurationEnv("ADSERVER_NONCE_TTL", 1*time.Hour),
			MaxEntries: getIntEnv("ADSERVER_NONCE_MAX_ENTRIES", 100000),
		},
		Fraud: FraudConfig{
			ClickRatelimits:       getEnv("ADSERVER_CLICK_RATELIMITS", "1/1m,3/10m,10/1h,25/24h"),
			InternalIPs:           getSliceEnv("ADSERVER_INTERNAL_IPS", nil),
			BlacklistedUserAgents: getSliceEnv("ADSERVER_UA_BLACKLIST", nil),
		},
		DoNotTrack: DNTConfig{
			Enabled:   getBoolEnv("ADSERVER_DO_NOT_TRACK", false),
			PolicyURL: getEnv("ADSERVER_PRIVACY_POLICY_URL", ""),
		},
		Auth: AuthConfig{
			Enabled:  getBoolEnv("ADSERVER_AUTH_ENABLED", true),
			StaffKey: getEnv("ADSERVER_STAFF_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("ADSERVER_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("ADSERVER_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("ADSERVER_RATE_LIMIT_TRACK_BURST", 200),
			MgmtRPS:    getFloatEnv("ADSERVER_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:  getIntEnv("ADSERVER_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("ADSERVER_LOG_LEVEL", "info"),
			Format: getEnv("ADSERVER_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ADSERVER_METRICS_ENABLED", true),
			Path:    getEnv("ADSERVER_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.StaffKey == "" {
		return fmt.Errorf("ADSERVER_STAFF_KEY is required when auth is enabled")
	}
	if c.Nonce.TTL <= 0 {
		return fmt.Errorf("ADSERVER_NONCE_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
