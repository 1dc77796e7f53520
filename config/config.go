// config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for slim containers

	"github.com/joho/godotenv"
)

// Config is everything the rewards service reads from the environment.
type Config struct {
	Port             string
	DatabaseURL      string
	ServiceToken     string
	AllowedOrigins   []string
	QuestTimezone    string
	QuestLocation    *time.Location
	PicksPerDay      int
	StreakPetals     int64
	ClickPetals      int64
	ClickRateLimit   int
	ClickRateWindow  time.Duration
	RedisURL         string
	KafkaBrokers     []string
	KafkaLedgerTopic string
	SyncServiceURL   string
	R2               R2Config
}

// R2Config holds Cloudflare R2 credentials. Empty AccountID disables export.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether enough is set to talk to R2.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// Load reads a .env file if present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "5200"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ServiceToken:     os.Getenv("GAME_SERVICE_TOKEN"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		QuestTimezone:    getEnv("QUEST_TIMEZONE", "America/New_York"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaLedgerTopic: getEnv("KAFKA_LEDGER_TOPIC", "petal-ledger"),
		SyncServiceURL:   os.Getenv("SYNC_SERVICE_URL"),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.ServiceToken == "" {
		return nil, fmt.Errorf("GAME_SERVICE_TOKEN environment variable not set")
	}

	loc, err := time.LoadLocation(cfg.QuestTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEST_TIMEZONE %q: %w", cfg.QuestTimezone, err)
	}
	cfg.QuestLocation = loc

	if cfg.PicksPerDay, err = getInt("QUEST_PICKS_PER_DAY", 3); err != nil {
		return nil, err
	}
	if cfg.PicksPerDay < 1 {
		return nil, fmt.Errorf("QUEST_PICKS_PER_DAY must be at least 1, got %d", cfg.PicksPerDay)
	}
	streak, err := getInt("STREAK_SHARD_PETALS", 5)
	if err != nil {
		return nil, err
	}
	click, err := getInt("CLICK_PETALS", 1)
	if err != nil {
		return nil, err
	}
	if streak < 0 || click < 0 {
		return nil, fmt.Errorf("petal rewards must not be negative")
	}
	cfg.StreakPetals = int64(streak)
	cfg.ClickPetals = int64(click)

	if cfg.ClickRateLimit, err = getInt("CLICK_RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	cfg.ClickRateWindow, err = time.ParseDuration(getEnv("CLICK_RATE_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLICK_RATE_WINDOW: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// splitList splits a comma-separated value and trims each element.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
