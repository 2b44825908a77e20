package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smith3v/couple-devotional/pkg/logger"
)

const (
	DefaultTimezoneOffsetMinutes = -180 // America/Sao_Paulo
	DefaultXPPerCompletion       = 10
	DefaultTokenTTLHours         = 24 * 30
	DefaultServerAddr            = ":8080"
	DefaultGeminiModel           = "gemini-2.0-flash"
	DefaultBibleAPIBaseURL       = "https://www.abibliadigital.com.br/api"
	DefaultBibleVersion          = "nvi"
)

type Config struct {
	Database DatabaseConfig `json:"database"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Timezone TimezoneConfig `json:"timezone"`
	Rewards  RewardsConfig  `json:"rewards"`
	Content  ContentConfig  `json:"content"`
}

// DatabaseConfig selects the driver. Postgres uses either DSN or the discrete
// fields; sqlite uses Path.
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	Path     string `json:"path"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	GormLevel string `json:"gorm_level"`
}

type ServerConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`
}

type SecurityConfig struct {
	JWTSecret           string `json:"jwt_secret"`
	EncryptionMasterKey string `json:"encryption_master_key"`
	TokenTTLHours       int    `json:"token_ttl_hours"`
}

type TimezoneConfig struct {
	OffsetMinutes *int `json:"offset_minutes"`
}

// Offset returns the configured offset or the default when unset.
func (t TimezoneConfig) Offset() int {
	if t.OffsetMinutes == nil {
		return DefaultTimezoneOffsetMinutes
	}
	return *t.OffsetMinutes
}

type RewardsConfig struct {
	XPPerCompletion int `json:"xp_per_completion"`
}

type ContentConfig struct {
	GeminiAPIKey    string `json:"gemini_api_key"`
	GeminiModel     string `json:"gemini_model"`
	BibleAPIBaseURL string `json:"bible_api_base_url"`
	BibleAPIToken   string `json:"bible_api_token"`
	BibleVersion    string `json:"bible_version"`
}

// LoadConfig reads the JSON file, overlays .env and process environment, then
// fills defaults.
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return cfg, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return cfg, err
	}

	_ = godotenv.Load() // .env is optional
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	overrides := map[string]*string{
		"ENCRYPTION_MASTER_KEY": &cfg.Security.EncryptionMasterKey,
		"JWT_SECRET":            &cfg.Security.JWTSecret,
		"GEMINI_API_KEY":        &cfg.Content.GeminiAPIKey,
		"TELEGRAM_TOKEN":        &cfg.Telegram.Token,
		"DATABASE_URL":          &cfg.Database.DSN,
		"BIBLE_API_TOKEN":       &cfg.Content.BibleAPIToken,
	}
	for key, target := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("APP_TIMEZONE_OFFSET_MINUTES")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid APP_TIMEZONE_OFFSET_MINUTES %q: %w", raw, err)
		}
		cfg.Timezone.OffsetMinutes = &offset
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Database.Driver) == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Security.TokenTTLHours <= 0 {
		cfg.Security.TokenTTLHours = DefaultTokenTTLHours
	}
	if cfg.Rewards.XPPerCompletion <= 0 {
		cfg.Rewards.XPPerCompletion = DefaultXPPerCompletion
	}
	if cfg.Content.GeminiModel == "" {
		cfg.Content.GeminiModel = DefaultGeminiModel
	}
	if cfg.Content.BibleAPIBaseURL == "" {
		cfg.Content.BibleAPIBaseURL = DefaultBibleAPIBaseURL
	}
	if cfg.Content.BibleVersion == "" {
		cfg.Content.BibleVersion = DefaultBibleVersion
	}
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Security.EncryptionMasterKey) == "" {
		errs = append(errs, errors.New("security.encryption_master_key is required"))
	}
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
