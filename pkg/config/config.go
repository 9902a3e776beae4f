// Package config provides configuration loading and validation for the bot.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. Environment always wins so deployments can
// override a checked-in config file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage driver names accepted by DriverName.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds every tunable the bot reads at startup.
type Config struct {
	// Backend API
	APIBaseURL string        `yaml:"api_base_url"`
	APITimeout time.Duration `yaml:"api_timeout"`
	Currency   string        `yaml:"currency"`

	// Notification webhook
	NotifySecret string `yaml:"notify_secret"`
	ListenAddr   string `yaml:"listen_addr"`

	// Storage
	Driver    string `yaml:"storage_driver"` // "sqlite" | "redis"
	DBPath    string `yaml:"db_path"`
	RedisAddr string `yaml:"redis_addr"`

	// Conversation tuning
	PageSize       int           `yaml:"page_size"`
	ListContextTTL time.Duration `yaml:"list_context_ttl"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`

	// File intake
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	StagingDir     string `yaml:"staging_dir"`

	// Outbound chat delivery for backend notifications. Empty means
	// deliveries are logged only.
	ChatWebhookURL string `yaml:"chat_webhook_url"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		APIBaseURL:     "http://localhost:3000/api/v1",
		APITimeout:     30 * time.Second,
		Currency:       "ETB",
		ListenAddr:     ":8443",
		Driver:         DriverSQLite,
		DBPath:         "./data/bot.sqlite",
		RedisAddr:      "localhost:6379",
		PageSize:       6,
		ListContextTTL: 10 * time.Minute,
		ThrottleWindow: 8 * time.Second,
		MaxUploadBytes: 5 * 1024 * 1024,
		StagingDir:     "./data/staging",
		LogLevel:       "info",
	}
}

// Load builds the config from defaults, the optional YAML file at path
// (skipped when path is empty or missing), and environment overrides.
// A .env file in the working directory is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional, ignore absence

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the file form of the config. Durations are written
// in Go syntax ("30s", "10m"); keys absent from the file keep whatever value
// the target already holds, so defaults survive a partial file.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var f struct {
		APIBaseURL     *string `yaml:"api_base_url"`
		APITimeout     *string `yaml:"api_timeout"`
		Currency       *string `yaml:"currency"`
		NotifySecret   *string `yaml:"notify_secret"`
		ListenAddr     *string `yaml:"listen_addr"`
		Driver         *string `yaml:"storage_driver"`
		DBPath         *string `yaml:"db_path"`
		RedisAddr      *string `yaml:"redis_addr"`
		PageSize       *int    `yaml:"page_size"`
		ListContextTTL *string `yaml:"list_context_ttl"`
		ThrottleWindow *string `yaml:"throttle_window"`
		MaxUploadBytes *int64  `yaml:"max_upload_bytes"`
		StagingDir     *string `yaml:"staging_dir"`
		ChatWebhookURL *string `yaml:"chat_webhook_url"`
		LogLevel       *string `yaml:"log_level"`
	}
	if err := value.Decode(&f); err != nil {
		return err
	}

	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	assign(&c.APIBaseURL, f.APIBaseURL)
	assign(&c.Currency, f.Currency)
	assign(&c.NotifySecret, f.NotifySecret)
	assign(&c.ListenAddr, f.ListenAddr)
	assign(&c.Driver, f.Driver)
	assign(&c.DBPath, f.DBPath)
	assign(&c.RedisAddr, f.RedisAddr)
	assign(&c.StagingDir, f.StagingDir)
	assign(&c.ChatWebhookURL, f.ChatWebhookURL)
	assign(&c.LogLevel, f.LogLevel)
	if f.PageSize != nil {
		c.PageSize = *f.PageSize
	}
	if f.MaxUploadBytes != nil {
		c.MaxUploadBytes = *f.MaxUploadBytes
	}

	parse := func(dst *time.Duration, key string, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := parse(&c.APITimeout, "api_timeout", f.APITimeout); err != nil {
		return err
	}
	if err := parse(&c.ListContextTTL, "list_context_ttl", f.ListContextTTL); err != nil {
		return err
	}
	if err := parse(&c.ThrottleWindow, "throttle_window", f.ThrottleWindow); err != nil {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.APIBaseURL, "API_BASE_URL")
	setDuration(&cfg.APITimeout, "API_TIMEOUT")
	setString(&cfg.Currency, "CURRENCY")
	setString(&cfg.NotifySecret, "BACKEND_NOTIFY_SECRET")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.Driver, "STORAGE_DRIVER")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setInt(&cfg.PageSize, "PAGE_SIZE")
	setDuration(&cfg.ListContextTTL, "LIST_CONTEXT_TTL")
	setDuration(&cfg.ThrottleWindow, "THROTTLE_WINDOW")
	setInt64(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setString(&cfg.StagingDir, "STAGING_DIR")
	setString(&cfg.ChatWebhookURL, "CHAT_WEBHOOK_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
}

// Validate rejects configurations the bot cannot run with.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if c.Driver != DriverSQLite && c.Driver != DriverRedis {
		return fmt.Errorf("unsupported storage driver: %s", c.Driver)
	}
	if c.Driver == DriverSQLite && c.DBPath == "" {
		return fmt.Errorf("db_path is required for sqlite storage")
	}
	if c.Driver == DriverRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for redis storage")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = i
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
