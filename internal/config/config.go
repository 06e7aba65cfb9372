package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AllowedOrigin  string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CartTTL        time.Duration
	AllowOversell  bool
	HideOutOfStock bool
	SeedDemo       bool
	AutoMigrate    bool
}

// LoadDotEnv reads variables from a .env file without overriding the ones
// already set in the process environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Printf("[config] %s not found, using process environment", path)
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttlMinutes, err := strconv.Atoi(getEnv("CART_TTL_MINUTES", "720"))
	if err != nil || ttlMinutes < 1 {
		ttlMinutes = 720
	}

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		CartTTL:        time.Duration(ttlMinutes) * time.Minute,
		AllowOversell:  getBool("ALLOW_OVERSELL", false),
		HideOutOfStock: getBool("HIDE_OUT_OF_STOCK", true),
		SeedDemo:       getBool("SEED_DEMO", true),
		AutoMigrate:    getBool("AUTO_MIGRATE", true),
	}

	return cfg
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

func getBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
