package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	AuthSecret            string
	AccessTokenTTLMinutes int
	EntityCacheTTLSeconds int
}

// AgentConfig configures the terminal-side sync agent. Retry ceiling and
// backoff bounds are first-class settings, not incidental timer behavior.
type AgentConfig struct {
	ServerURL        string
	LocalDBPath      string
	TerminalID       string
	StoreID          string
	SyncInterval     time.Duration
	SyncBatchSize    int
	MaxAttempts      int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	AuthToken        string
	RequestTimeoutMS int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	cacheTTL, err := strconv.Atoi(getEnv("ENTITY_CACHE_TTL_SECONDS", "30"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 30
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		EntityCacheTTLSeconds: cacheTTL,
	}
}

func LoadAgent() AgentConfig {
	interval := positiveEnvInt("SYNC_INTERVAL_SECONDS", 120)
	batch := positiveEnvInt("SYNC_BATCH_SIZE", 50)
	attempts := positiveEnvInt("SYNC_MAX_ATTEMPTS", 5)
	backoffMin := positiveEnvInt("SYNC_BACKOFF_MIN_SECONDS", 1)
	backoffMax := positiveEnvInt("SYNC_BACKOFF_MAX_SECONDS", 60)
	timeoutMS := positiveEnvInt("SYNC_REQUEST_TIMEOUT_MS", 15000)

	return AgentConfig{
		ServerURL:        getEnv("SYNC_SERVER_URL", "http://127.0.0.1:8080"),
		LocalDBPath:      getEnv("LOCAL_DB_PATH", "tokosync-agent.db"),
		TerminalID:       getEnv("TERMINAL_ID", "terminal-a1"),
		StoreID:          getEnv("DEFAULT_STORE_ID", "main-store"),
		SyncInterval:     time.Duration(interval) * time.Second,
		SyncBatchSize:    batch,
		MaxAttempts:      attempts,
		BackoffMin:       time.Duration(backoffMin) * time.Second,
		BackoffMax:       time.Duration(backoffMax) * time.Second,
		AuthToken:        strings.TrimSpace(os.Getenv("SYNC_AUTH_TOKEN")),
		RequestTimeoutMS: timeoutMS,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveEnvInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
