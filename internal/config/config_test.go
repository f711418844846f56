package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

func memoryConfig() Config {
	cfg := Default()
	cfg.Storage.Mode = ModeMemory
	cfg.Storage.Notifier = NotifierLog
	cfg.Token.HMACSecret = "secret"
	cfg.Token.EnvelopeKey = testKey
	return cfg
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_STORAGE_MODE", "MEMORY")
	t.Setenv("AUTHCORE_NOTIFIER", "log")
	t.Setenv("AUTHCORE_JWT_SECRET", "secret")
	t.Setenv("AUTHCORE_ENVELOPE_KEY", testKey)
	t.Setenv("AUTHCORE_ACCESS_TTL", "5m")
	t.Setenv("AUTHCORE_RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Mode != ModeMemory {
		t.Fatalf("expected memory mode, got %q", cfg.Storage.Mode)
	}
	if cfg.Token.AccessTTL != 5*time.Minute {
		t.Fatalf("expected access ttl 5m, got %v", cfg.Token.AccessTTL)
	}
	if cfg.Token.RefreshTTL != 50*time.Minute {
		t.Fatalf("expected default refresh ttl, got %v", cfg.Token.RefreshTTL)
	}
	if cfg.HTTP.RateLimit != 2.5 {
		t.Fatalf("expected rate 2.5, got %v", cfg.HTTP.RateLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	body := `
http:
  addr: ":9000"
storage:
  mode: postgres
  postgres_dsn: postgres://file/auth
  redis_url: redis://file:6379/0
token:
  hmac_secret: from-file
  envelope_key: ` + testKey + `
  refresh_ttl: 2h
worker:
  concurrency: 8
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTHCORE_CONFIG_FILE", path)
	t.Setenv("AUTHCORE_PG_DSN", "postgres://env/auth")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("file addr not applied: %q", cfg.HTTP.Addr)
	}
	if cfg.Storage.PostgresDSN != "postgres://env/auth" {
		t.Fatalf("env should win over file, got %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Token.RefreshTTL != 2*time.Hour {
		t.Fatalf("expected refresh ttl 2h, got %v", cfg.Token.RefreshTTL)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Token.HMACSecret != "from-file" {
		t.Fatalf("unexpected secret %q", cfg.Token.HMACSecret)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	t.Setenv("AUTHCORE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid memory", mutate: func(*Config) {}},
		{name: "short envelope key", mutate: func(c *Config) {
			c.Token.EnvelopeKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, want: "32 bytes"},
		{name: "envelope key not base64", mutate: func(c *Config) { c.Token.EnvelopeKey = "%%%" }, want: "base64"},
		{name: "missing envelope key", mutate: func(c *Config) { c.Token.EnvelopeKey = "" }, want: "envelope key is required"},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Token.Algorithm = "ES256" }, want: "signing algorithm"},
		{name: "hs256 without secret", mutate: func(c *Config) { c.Token.HMACSecret = " " }, want: "jwt secret"},
		{name: "rs256 without keys", mutate: func(c *Config) { c.Token.Algorithm = AlgRS256 }, want: "private and public"},
		{name: "zero ttl", mutate: func(c *Config) { c.Token.AccessTTL = 0 }, want: "TTLs"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Mode = ModePostgres }, want: "postgres DSN"},
		{name: "queue without redis", mutate: func(c *Config) {
			c.Storage.Mode = ModePostgres
			c.Storage.PostgresDSN = "postgres://x"
		}, want: "redis URL"},
		{name: "direct processor needs no redis", mutate: func(c *Config) {
			c.Storage.Mode = ModePostgres
			c.Storage.PostgresDSN = "postgres://x"
			c.Storage.Processor = ProcessorDirect
		}},
		{name: "unknown mode", mutate: func(c *Config) { c.Storage.Mode = "disk" }, want: "storage mode"},
		{name: "queue notifier without redis", mutate: func(c *Config) { c.Storage.Notifier = NotifierQueue }, want: "queue notifier"},
		{name: "burst required", mutate: func(c *Config) { c.HTTP.RateBurst = 0 }, want: "rate burst"},
		{name: "no worker goroutines", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, want: "concurrency"},
		{name: "cache without ttl", mutate: func(c *Config) { c.Cache.GroupSize, c.Cache.GroupTTL = 64, 0 }, want: "cache TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTokenKey(t *testing.T) {
	key, err := memoryConfig().Token.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("AUTHCORE_TEST_INT", "nope")
	t.Setenv("AUTHCORE_TEST_DURATION", "soon")
	if got := getEnvInt("AUTHCORE_TEST_INT", 3); got != 3 {
		t.Fatalf("getEnvInt fallback = %d", got)
	}
	if got := getEnvDuration("AUTHCORE_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("getEnvDuration fallback = %v", got)
	}
	if got := getEnv("AUTHCORE_TEST_UNSET", "x"); got != "x" {
		t.Fatalf("getEnv fallback = %q", got)
	}
}
