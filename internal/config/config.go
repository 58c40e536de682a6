package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	MetricsNamespace string

	HTTPListenAddr string
	HTTPBasePath   string
	PublicBaseURL  string

	// DatabaseURL selects Postgres when set; otherwise SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	BotToken        string
	ChannelUsername string

	NowPayBaseURL     string
	NowPayAPIKey      string
	NowPayIPNSecret   string
	NowPayTimeout     time.Duration
	MinAmountCacheTTL time.Duration
}

// Load reads configuration from environment variables and validates required
// values.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "earnbot"),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8000"),
		HTTPBasePath:   os.Getenv("HTTP_BASE_PATH"),
		PublicBaseURL:  strings.TrimRight(os.Getenv("BASE_URL"), "/"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/earnbot.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisTLS:      getBool("REDIS_TLS", false),

		BotToken:        os.Getenv("BOT_TOKEN"),
		ChannelUsername: getEnv("CHANNEL_USERNAME", "@InfinityEarn2x"),

		NowPayBaseURL:     getEnv("NOWPAY_BASE_URL", "https://api.nowpayments.io/v1"),
		NowPayAPIKey:      os.Getenv("NOWPAY_API_KEY"),
		NowPayIPNSecret:   os.Getenv("NOWPAY_IPN_SECRET"),
		NowPayTimeout:     getDuration("NOWPAY_TIMEOUT", 30*time.Second),
		MinAmountCacheTTL: getDuration("MIN_AMOUNT_CACHE_TTL", 5*time.Minute),
	}

	var missing []string
	for name, val := range map[string]string{
		"BOT_TOKEN":         cfg.BotToken,
		"NOWPAY_API_KEY":    cfg.NowPayAPIKey,
		"NOWPAY_IPN_SECRET": cfg.NowPayIPNSecret,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required config values: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
