package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string

	APIURL string

	// Push channel
	PushTransport  string // ws | amqp
	PushURL        string
	RabbitURL      string
	RabbitExchange string

	// Redis & Caching
	RedisURL     string
	CacheTTLList time.Duration // 0 disables the listing cache

	// Session token persistence
	TokenStore string // file | redis | memory
	TokenFile  string
	TokenKey   string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Client-side rate limiting (0 disables)
	RateLimitRPS   float64
	RateLimitBurst int

	PageSize    int
	MetricsAddr string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.APIURL = strings.TrimRight(getEnv("EVENTS_API_URL", "http://localhost:5000"), "/")

	cfg.PushTransport = getEnv("PUSH_TRANSPORT", "ws")
	cfg.PushURL = getEnv("EVENTS_PUSH_URL", "")
	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "city.events")

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.CacheTTLList = getDuration("CACHE_TTL_LIST", 15*time.Second)

	cfg.TokenStore = getEnv("TOKEN_STORE", "file")
	cfg.TokenFile = getEnv("TOKEN_FILE", defaultTokenFile())
	cfg.TokenKey = getEnv("TOKEN_KEY", "eventctl:token")

	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 5*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 15*time.Second)

	cfg.RateLimitRPS = getFloatEnv("RATE_LIMIT_RPS", 0)
	cfg.RateLimitBurst = getIntEnv("RATE_LIMIT_BURST", 5)

	cfg.PageSize = getIntEnv("PAGE_SIZE", 10)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	// validation
	if cfg.PushTransport != "ws" && cfg.PushTransport != "amqp" {
		return nil, fmt.Errorf("invalid PUSH_TRANSPORT %q (expected ws or amqp)", cfg.PushTransport)
	}
	if cfg.PushTransport == "amqp" && cfg.RabbitURL == "" {
		return nil, fmt.Errorf("missing RABBIT_URL (required when PUSH_TRANSPORT=amqp)")
	}
	switch cfg.TokenStore {
	case "file", "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("missing REDIS_URL (required when TOKEN_STORE=redis)")
		}
	default:
		return nil, fmt.Errorf("invalid TOKEN_STORE %q", cfg.TokenStore)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive")
	}

	return cfg, nil
}

// WebSocketURL derives the push endpoint from the API URL when EVENTS_PUSH_URL is unset.
func (c *Config) WebSocketURL() string {
	if c.PushURL != "" {
		return c.PushURL
	}
	u := c.APIURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".eventctl-token.json"
	}
	return filepath.Join(dir, "eventctl", "token.json")
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
