package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v2"
)

const defaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Address        string   `yaml:"address"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Booking struct {
		BaseURL       string        `yaml:"base_url"`
		MerchantID    string        `yaml:"merchant_id"`
		APISecret     string        `yaml:"api_secret"`
		WebhookSecret string        `yaml:"webhook_secret"`
		CallbackURL   string        `yaml:"callback_url"`
		Timeout       time.Duration `yaml:"timeout"`
		LockTTL       time.Duration `yaml:"lock_ttl"`
		LockWait      time.Duration `yaml:"lock_wait"`
	} `yaml:"booking"`
	Notifications struct {
		BroadcastBatchSize   int           `yaml:"broadcast_batch_size"`
		BroadcastConcurrency int           `yaml:"broadcast_concurrency"`
		ExpiredSweepInterval time.Duration `yaml:"expired_sweep_interval"`
		ReadRetention        time.Duration `yaml:"read_retention"`
	} `yaml:"notifications"`
	Mail struct {
		Enabled bool   `yaml:"enabled"`
		Region  string `yaml:"region"`
		Sender  string `yaml:"sender"`
	} `yaml:"mail"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH (config/config.yaml
// by default), applies environment overrides and defaults, and validates it.
// A missing file is fine when the environment carries the settings.
func LoadConfig() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	return Load(path)
}

func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Database.Driver == "mysql" {
		dsn, err := normalizeMySQLDSN(cfg.Database.URL)
		if err != nil {
			return Config{}, err
		}
		cfg.Database.URL = dsn
	}
	return cfg, nil
}

// normalizeMySQLDSN turns on found-rows reporting so a guarded UPDATE that
// matches a row counts it even when no column value changes, and turns on
// time parsing for DATETIME columns.
func normalizeMySQLDSN(dsn string) (string, error) {
	dc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("config: parse database.url: %w", err)
	}
	dc.ClientFoundRows = true
	dc.ParseTime = true
	return dc.FormatDSN(), nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Address = ":" + strings.TrimPrefix(port, ":")
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	readStringEnv("DATABASE_URL", &cfg.Database.URL)
	readStringEnv("REDIS_ADDR", &cfg.Redis.Address)
	readStringEnv("REDIS_PASSWORD", &cfg.Redis.Password)
	readIntEnv("REDIS_DB", &cfg.Redis.DB)
	readStringEnv("JWT_SECRET", &cfg.Auth.JWTSecret)
	readStringEnv("BOOKING_API_URL", &cfg.Booking.BaseURL)
	readStringEnv("BOOKING_MERCHANT_ID", &cfg.Booking.MerchantID)
	readStringEnv("BOOKING_API_SECRET", &cfg.Booking.APISecret)
	readStringEnv("BOOKING_WEBHOOK_SECRET", &cfg.Booking.WebhookSecret)
	readStringEnv("BOOKING_CALLBACK_URL", &cfg.Booking.CallbackURL)
	readDurationEnv("BOOKING_TIMEOUT", &cfg.Booking.Timeout)
	readIntEnv("NOTIFICATIONS_BROADCAST_BATCH", &cfg.Notifications.BroadcastBatchSize)
	readDurationEnv("NOTIFICATIONS_READ_RETENTION", &cfg.Notifications.ReadRetention)
	if v := os.Getenv("MAIL_ENABLED"); v != "" {
		cfg.Mail.Enabled, _ = strconv.ParseBool(v)
	}
	readStringEnv("SES_REGION", &cfg.Mail.Region)
	readStringEnv("SES_SENDER", &cfg.Mail.Sender)
	readStringEnv("LOG_LEVEL", &cfg.Log.Level)
	readStringEnv("LOG_FORMAT", &cfg.Log.Format)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":4001"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Booking.Timeout <= 0 {
		cfg.Booking.Timeout = 10 * time.Second
	}
	if cfg.Booking.LockTTL <= 0 {
		cfg.Booking.LockTTL = 30 * time.Second
	}
	if cfg.Booking.LockWait <= 0 {
		cfg.Booking.LockWait = 15 * time.Second
	}
	if cfg.Notifications.BroadcastBatchSize <= 0 {
		cfg.Notifications.BroadcastBatchSize = 100
	}
	if cfg.Notifications.BroadcastConcurrency <= 0 {
		cfg.Notifications.BroadcastConcurrency = 8
	}
	if cfg.Notifications.ExpiredSweepInterval <= 0 {
		cfg.Notifications.ExpiredSweepInterval = 5 * time.Minute
	}
	if cfg.Notifications.ReadRetention <= 0 {
		cfg.Notifications.ReadRetention = 90 * 24 * time.Hour
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "ap-south-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate reports the first missing required setting.
func (c Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "database.url")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.Booking.BaseURL == "" {
		missing = append(missing, "booking.base_url")
	}
	if c.Booking.WebhookSecret == "" {
		missing = append(missing, "booking.webhook_secret")
	}
	if c.Mail.Enabled && c.Mail.Sender == "" {
		missing = append(missing, "mail.sender")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func readStringEnv(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readIntEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func readDurationEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
