// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"realty_bot/internal/acquire"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	AdminUsers       []int64

	CheckInterval  time.Duration
	SendDelay      time.Duration
	MaxPhotos      int
	FingerprintTTL time.Duration
	CacheMaxAge    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StatusAddr  string
	SourcesFile string
	Sources     []acquire.FeedConfig
}

type sourcesFile struct {
	Sources []acquire.FeedConfig `yaml:"sources"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	allowedUsers, err := parseUserIDs("ALLOWED_USERS")
	if err != nil {
		return nil, err
	}
	adminUsers, err := parseUserIDs("ADMIN_USERS")
	if err != nil {
		return nil, err
	}

	interval, err := positiveInt("CHECK_INTERVAL", 30)
	if err != nil {
		return nil, err
	}
	maxPhotos, err := positiveInt("MAX_PHOTOS", 3)
	if err != nil {
		return nil, err
	}
	ttlDays, err := positiveInt("FINGERPRINT_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cacheDays, err := positiveInt("CACHE_MAX_AGE_DAYS", 7)
	if err != nil {
		return nil, err
	}

	sendDelay := time.Second
	if raw := os.Getenv("SEND_DELAY"); raw != "" {
		sendDelay, err = time.ParseDuration(raw)
		if err != nil || sendDelay < 0 {
			return nil, fmt.Errorf("invalid SEND_DELAY %q", raw)
		}
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		redisDB, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", raw, err)
		}
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/bot.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		AllowedUsers:     allowedUsers,
		AdminUsers:       adminUsers,
		CheckInterval:    time.Duration(interval) * time.Minute,
		SendDelay:        sendDelay,
		MaxPhotos:        maxPhotos,
		FingerprintTTL:   time.Duration(ttlDays) * 24 * time.Hour,
		CacheMaxAge:      time.Duration(cacheDays) * 24 * time.Hour,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		StatusAddr:       os.Getenv("STATUS_ADDR"),
		SourcesFile:      os.Getenv("SOURCES_FILE"),
	}

	if cfg.SourcesFile != "" {
		cfg.Sources, err = LoadSources(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadSources reads listing feed definitions from a YAML file of the form:
//
//	sources:
//	  - name: kufar
//	    url: https://example.com/rss?city={city}
//
// Disabled feeds are dropped.
func LoadSources(path string) ([]acquire.FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	var sources []acquire.FeedConfig
	for i, s := range f.Sources {
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("source #%d: name and url are required", i+1)
		}
		if s.IsEnabled() {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

// IsAdmin reports whether a user may trigger manual delivery runs.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.AdminUsers, userID)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseUserIDs(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}

	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}
