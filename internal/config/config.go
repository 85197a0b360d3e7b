// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"

	ProviderWorkersAI = "workers_ai"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderNoop      = "noop"

	DefaultModel = "@cf/meta/llama-3.3-70b-instruct-fp8-fast"

	// DefaultTemperature is preset before decoding so an explicit 0 survives.
	DefaultTemperature = 0.2
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port         int           `yaml:"port" env:"HTTP_PORT"`
	AdminPort    int           `yaml:"admin_port" env:"ADMIN_PORT"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"` // enable sampling in prod
}

type StorageConfig struct {
	Driver    string        `yaml:"driver" env:"STORAGE_DRIVER"` // memory|redis|postgres
	KeyPrefix string        `yaml:"key_prefix" env:"STORAGE_KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"STORAGE_TTL"` // 0 keeps records forever
}

type RedisConfig struct {
	URL      string `yaml:"url" env:"REDIS_URL"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	// LockTTL bounds how long one replica may hold a session.
	LockTTL time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

type AIConfig struct {
	Provider        string        `yaml:"provider" env:"AI_PROVIDER"`
	Model           string        `yaml:"model" env:"AI_MODEL"`
	APIKey          string        `yaml:"api_key" env:"AI_API_KEY"`
	AccountID       string        `yaml:"account_id" env:"AI_ACCOUNT_ID"`
	BaseURL         string        `yaml:"base_url" env:"AI_BASE_URL"`
	MaxTokens       int           `yaml:"max_tokens" env:"AI_MAX_TOKENS"`
	Temperature     float64       `yaml:"temperature" env:"AI_TEMPERATURE"`
	ConcurrentLimit int           `yaml:"concurrent_limit" env:"AI_CONCURRENT_LIMIT"` // max concurrent AI calls
	Timeout         time.Duration `yaml:"timeout" env:"AI_TIMEOUT"`
	MaxAttempts     int           `yaml:"max_attempts" env:"AI_MAX_ATTEMPTS"`
	BackoffStep     time.Duration `yaml:"backoff_step" env:"AI_BACKOFF_STEP"`
	// TokenEncoding names the tiktoken encoding used for prompt size metrics; empty disables it.
	TokenEncoding string `yaml:"token_encoding" env:"AI_TOKEN_ENCODING"`
}

type ChatConfig struct {
	MaxHistory    int           `yaml:"max_history" env:"CHAT_MAX_HISTORY"`
	RateLimit     int           `yaml:"rate_limit" env:"CHAT_RATE_LIMIT"`
	RateWindow    time.Duration `yaml:"rate_window" env:"CHAT_RATE_WINDOW"`
	IdleTTL       time.Duration `yaml:"idle_ttl" env:"CHAT_IDLE_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CHAT_SWEEP_INTERVAL"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Chat     ChatConfig     `yaml:"chat"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev from the command line and loads the result.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return Load(configPath, dev)
}

// Load reads the yaml file at path (optional), applies environment overrides,
// fills defaults and validates the result.
func Load(path string, dev bool) (*Config, error) {
	cfg := Config{AI: AIConfig{Temperature: DefaultTemperature}}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployments have no file
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AdminPort <= 0 {
		cfg.Server.AdminPort = 9090
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "chat_session:"
	}
	if cfg.Storage.TTL < 0 {
		cfg.Storage.TTL = 0
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 2 * time.Minute
	}

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderWorkersAI
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultModel
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 1024
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 20 * time.Second
	}
	if cfg.AI.MaxAttempts <= 0 {
		cfg.AI.MaxAttempts = 3
	}
	if cfg.AI.BackoffStep <= 0 {
		cfg.AI.BackoffStep = 250 * time.Millisecond
	}

	if cfg.Chat.MaxHistory <= 0 {
		cfg.Chat.MaxHistory = 20
	}
	if cfg.Chat.RateLimit <= 0 {
		cfg.Chat.RateLimit = 20
	}
	if cfg.Chat.RateWindow <= 0 {
		cfg.Chat.RateWindow = time.Minute
	}
	if cfg.Chat.IdleTTL <= 0 {
		cfg.Chat.IdleTTL = 30 * time.Minute
	}
	if cfg.Chat.SweepInterval <= 0 {
		cfg.Chat.SweepInterval = time.Minute
	}
}

// Validate checks cross-field requirements after defaults are applied.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.Driver, validation.Required,
			validation.In(DriverMemory, DriverRedis, DriverPostgres)),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validation.ValidateStruct(&c.Redis,
		validation.Field(&c.Redis.URL, validation.When(c.Storage.Driver == DriverRedis, validation.Required)),
	); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.URL, validation.When(c.Storage.Driver == DriverPostgres, validation.Required)),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	needsKey := c.AI.Provider != ProviderNoop
	if err := validation.ValidateStruct(&c.AI,
		validation.Field(&c.AI.Provider, validation.Required,
			validation.In(ProviderWorkersAI, ProviderOpenAI, ProviderGemini, ProviderNoop)),
		validation.Field(&c.AI.APIKey, validation.When(needsKey, validation.Required)),
		validation.Field(&c.AI.AccountID, validation.When(c.AI.Provider == ProviderWorkersAI, validation.Required)),
		validation.Field(&c.AI.Temperature, validation.Min(0.0), validation.Max(2.0)),
	); err != nil {
		return fmt.Errorf("ai: %w", err)
	}

	if err := validation.ValidateStruct(&c.Security,
		validation.Field(&c.Security.EncryptionKey, validation.By(aesKeyLength)),
	); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	return nil
}

func aesKeyLength(value interface{}) error {
	s, _ := value.(string)
	switch len(s) {
	case 0, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("must be 16, 24, or 32 bytes; got %d", len(s))
}
