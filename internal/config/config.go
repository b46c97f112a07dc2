package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AppEnv                   string
	LogLevel                 string
	AllowedOrigin            string
	DatabaseURL              string
	DBAutoMigrate            bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	StoreID                  string
	BusinessTimezone         string
	StockAllowBackorder      bool
	TxRetryAttempts          int
	ValuationCacheTTLSeconds int
	SyncGuardTTLSeconds      int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ManagerPIN               string
}

// Load reads the environment. A .env file in the working directory, when
// present, fills in variables that are not already set.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AppEnv:                   getEnv("APP_ENV", "development"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		DBAutoMigrate:            getEnvBool("DB_AUTO_MIGRATE", true),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getEnvInt("REDIS_DB", 0, 0),
		StoreID:                  getEnv("DEFAULT_STORE_ID", "main-store"),
		BusinessTimezone:         getEnv("BUSINESS_TIMEZONE", "Asia/Jakarta"),
		StockAllowBackorder:      getEnvBool("STOCK_ALLOW_BACKORDER", false),
		TxRetryAttempts:          getEnvInt("TX_RETRY_ATTEMPTS", 3, 1),
		ValuationCacheTTLSeconds: getEnvInt("VALUATION_CACHE_TTL_SECONDS", 30, 1),
		SyncGuardTTLSeconds:      getEnvInt("SYNC_GUARD_TTL_SECONDS", 30, 1),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		ManagerPIN:               strings.TrimSpace(os.Getenv("MANAGER_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// BusinessLocation is the zone that decides a sale's business date. An
// unknown zone name falls back to UTC.
func (c Config) BusinessLocation() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) ValuationCacheTTL() time.Duration {
	return time.Duration(c.ValuationCacheTTLSeconds) * time.Second
}

func (c Config) SyncGuardTTL() time.Duration {
	return time.Duration(c.SyncGuardTTLSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, minimum int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < minimum {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
