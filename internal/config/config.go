// Package config loads process configuration from a YAML file and AUTHCORE_*
// environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"authcore.org/internal/token"
)

// Storage modes.
const (
	ModeMemory   = "memory"
	ModePostgres = "postgres"
)

// Processor kinds used in postgres mode.
const (
	ProcessorQueue  = "queue"
	ProcessorDirect = "direct"
)

// Notifier kinds.
const (
	NotifierLog   = "log"
	NotifierQueue = "queue"
)

// Signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// Config holds all application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Storage   StorageConfig   `yaml:"storage"`
	Token     TokenConfig     `yaml:"token"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Cache     CacheConfig     `yaml:"cache"`
	Worker    WorkerConfig    `yaml:"worker"`
	LogLevel  string          `yaml:"log_level"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// GRPCConfig holds the gRPC listener. An empty address disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects where state lives and how writes reach it.
type StorageConfig struct {
	Mode        string `yaml:"mode"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`
	Processor   string `yaml:"processor"`
	Queue       string `yaml:"queue"`
	EmailQueue  string `yaml:"email_queue"`
	Notifier    string `yaml:"notifier"`
}

// TokenConfig holds signing and envelope material.
type TokenConfig struct {
	Algorithm  string `yaml:"algorithm"`
	HMACSecret string `yaml:"hmac_secret"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
	// EnvelopeKey is base64 encoded and must decode to 32 bytes.
	EnvelopeKey string        `yaml:"envelope_key"`
	Issuer      string        `yaml:"issuer"`
	AccessTTL   time.Duration `yaml:"access_ttl"`
	RefreshTTL  time.Duration `yaml:"refresh_ttl"`
}

// ChallengeConfig tunes challenge codes.
type ChallengeConfig struct {
	Expiry time.Duration `yaml:"expiry"`
}

// CacheConfig tunes the group grant cache. Size zero, the default, disables it;
// when enabled, group grant changes reach new tokens only after GroupTTL.
type CacheConfig struct {
	GroupSize int           `yaml:"group_size"`
	GroupTTL  time.Duration `yaml:"group_ttl"`
}

// WorkerConfig tunes the durable worker.
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	CleanupSchedule    string        `yaml:"cleanup_schedule"`
	ChallengeRetention time.Duration `yaml:"challenge_retention"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Storage: StorageConfig{
			Mode:       ModePostgres,
			Processor:  ProcessorQueue,
			Queue:      "auth_db_transactions",
			EmailQueue: "auth_emails",
			Notifier:   NotifierQueue,
		},
		Token: TokenConfig{
			Algorithm:  AlgHS256,
			Issuer:     "authcore",
			AccessTTL:  20 * time.Minute,
			RefreshTTL: 50 * time.Minute,
		},
		Challenge: ChallengeConfig{Expiry: 10 * time.Minute},
		Cache:     CacheConfig{GroupTTL: 30 * time.Second},
		Worker: WorkerConfig{
			Concurrency:        4,
			PollTimeout:        5 * time.Second,
			CleanupSchedule:    "@every 10m",
			ChallengeRetention: 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads AUTHCORE_CONFIG_FILE when set, overlays the environment
// and validates the result.
func LoadConfig() (Config, error) {
	cfg := Default()
	if path := os.Getenv("AUTHCORE_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.HTTP.Addr = getEnv("AUTHCORE_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ReadTimeout = getEnvDuration("AUTHCORE_HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = getEnvDuration("AUTHCORE_HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.IdleTimeout = getEnvDuration("AUTHCORE_HTTP_IDLE_TIMEOUT", c.HTTP.IdleTimeout)
	c.HTTP.ShutdownTimeout = getEnvDuration("AUTHCORE_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	c.HTTP.RateLimit = getEnvFloat("AUTHCORE_RATE_LIMIT_RPS", c.HTTP.RateLimit)
	c.HTTP.RateBurst = getEnvInt("AUTHCORE_RATE_LIMIT_BURST", c.HTTP.RateBurst)
	c.GRPC.Addr = getEnv("AUTHCORE_GRPC_ADDR", c.GRPC.Addr)

	c.Storage.Mode = strings.ToLower(getEnv("AUTHCORE_STORAGE_MODE", c.Storage.Mode))
	c.Storage.PostgresDSN = getEnv("AUTHCORE_PG_DSN", c.Storage.PostgresDSN)
	c.Storage.RedisURL = getEnv("AUTHCORE_REDIS_URL", c.Storage.RedisURL)
	c.Storage.Processor = strings.ToLower(getEnv("AUTHCORE_PROCESSOR", c.Storage.Processor))
	c.Storage.Queue = getEnv("AUTHCORE_QUEUE", c.Storage.Queue)
	c.Storage.EmailQueue = getEnv("AUTHCORE_EMAIL_QUEUE", c.Storage.EmailQueue)
	c.Storage.Notifier = strings.ToLower(getEnv("AUTHCORE_NOTIFIER", c.Storage.Notifier))

	c.Token.Algorithm = strings.ToUpper(getEnv("AUTHCORE_JWT_ALG", c.Token.Algorithm))
	c.Token.HMACSecret = getEnv("AUTHCORE_JWT_SECRET", c.Token.HMACSecret)
	c.Token.PrivateKey = getEnv("AUTHCORE_JWT_PRIVATE_KEY", c.Token.PrivateKey)
	c.Token.PublicKey = getEnv("AUTHCORE_JWT_PUBLIC_KEY", c.Token.PublicKey)
	c.Token.EnvelopeKey = getEnv("AUTHCORE_ENVELOPE_KEY", c.Token.EnvelopeKey)
	c.Token.Issuer = getEnv("AUTHCORE_JWT_ISSUER", c.Token.Issuer)
	c.Token.AccessTTL = getEnvDuration("AUTHCORE_ACCESS_TTL", c.Token.AccessTTL)
	c.Token.RefreshTTL = getEnvDuration("AUTHCORE_REFRESH_TTL", c.Token.RefreshTTL)

	c.Challenge.Expiry = getEnvDuration("AUTHCORE_CHALLENGE_EXPIRY", c.Challenge.Expiry)
	c.Cache.GroupSize = getEnvInt("AUTHCORE_GROUP_CACHE_SIZE", c.Cache.GroupSize)
	c.Cache.GroupTTL = getEnvDuration("AUTHCORE_GROUP_CACHE_TTL", c.Cache.GroupTTL)

	c.Worker.Concurrency = getEnvInt("AUTHCORE_WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.PollTimeout = getEnvDuration("AUTHCORE_WORKER_POLL_TIMEOUT", c.Worker.PollTimeout)
	c.Worker.CleanupSchedule = getEnv("AUTHCORE_CLEANUP_SCHEDULE", c.Worker.CleanupSchedule)
	c.Worker.ChallengeRetention = getEnvDuration("AUTHCORE_CHALLENGE_RETENTION", c.Worker.ChallengeRetention)

	c.LogLevel = getEnv("AUTHCORE_LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http address is required")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst == 0 {
		return errors.New("rate burst is required when rate limiting is enabled")
	}

	switch c.Storage.Mode {
	case ModeMemory:
	case ModePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres DSN is required for postgres storage")
		}
		switch c.Storage.Processor {
		case ProcessorDirect:
		case ProcessorQueue:
			if c.Storage.RedisURL == "" {
				return errors.New("redis URL is required for the queue processor")
			}
			if c.Storage.Queue == "" {
				return errors.New("queue name is required for the queue processor")
			}
		default:
			return fmt.Errorf("invalid processor: %s (must be queue or direct)", c.Storage.Processor)
		}
	default:
		return fmt.Errorf("invalid storage mode: %s (must be memory or postgres)", c.Storage.Mode)
	}

	switch c.Storage.Notifier {
	case NotifierLog:
	case NotifierQueue:
		if c.Storage.RedisURL == "" || c.Storage.EmailQueue == "" {
			return errors.New("redis URL and email queue are required for the queue notifier")
		}
	default:
		return fmt.Errorf("invalid notifier: %s (must be log or queue)", c.Storage.Notifier)
	}

	if _, err := c.Token.Key(); err != nil {
		return err
	}
	switch c.Token.Algorithm {
	case AlgHS256:
		if strings.TrimSpace(c.Token.HMACSecret) == "" {
			return errors.New("jwt secret is required for HS256")
		}
	case AlgRS256:
		if strings.TrimSpace(c.Token.PrivateKey) == "" || strings.TrimSpace(c.Token.PublicKey) == "" {
			return errors.New("jwt private and public keys are required for RS256")
		}
	default:
		return fmt.Errorf("invalid signing algorithm: %s (must be HS256 or RS256)", c.Token.Algorithm)
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Challenge.Expiry <= 0 {
		return errors.New("challenge expiry must be positive")
	}
	if c.Cache.GroupSize < 0 {
		return errors.New("group cache size must not be negative")
	}
	if c.Cache.GroupSize > 0 && c.Cache.GroupTTL <= 0 {
		return errors.New("group cache TTL must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker concurrency must be at least 1")
	}
	if c.Worker.PollTimeout <= 0 {
		return errors.New("worker poll timeout must be positive")
	}
	return nil
}

// Key decodes the envelope key.
func (t TokenConfig) Key() ([]byte, error) {
	if t.EnvelopeKey == "" {
		return nil, errors.New("envelope key is required")
	}
	key, err := base64.StdEncoding.DecodeString(t.EnvelopeKey)
	if err != nil {
		return nil, fmt.Errorf("envelope key must be base64: %w", err)
	}
	if len(key) != token.KeySize {
		return nil, fmt.Errorf("envelope key must be %d bytes, got %d", token.KeySize, len(key))
	}
	return key, nil
}

// SigningOption returns the token option matching the configured algorithm.
func (t TokenConfig) SigningOption() token.Option {
	if t.Algorithm == AlgRS256 {
		return token.WithRS256Keys(t.PrivateKey, t.PublicKey)
	}
	return token.WithHMACSecret(t.HMACSecret)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
