// Package config provides configuration file support for safeguard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "safeguard.yaml"

// Config holds everything the daemon and CLI need to start. Secrets are
// never written to the file; they come from the environment.
type Config struct {
	Env     string        `yaml:"env"`
	Audit   AuditConfig   `yaml:"audit"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Redis   RedisConfig   `yaml:"redis"`
	Webhook WebhookConfig `yaml:"webhook"`
	Logging LoggingConfig `yaml:"logging"`
}

// AuditConfig locates the trail and its policy.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	PolicyPath string `yaml:"policy_path"`
	// SigningKeyFile points at the HMAC key material. Empty means the
	// SAFEGUARD_SIGNING_KEY environment variable, and failing that a
	// keyless trail.
	SigningKeyFile string `yaml:"signing_key_file"`
}

// HTTPConfig configures the daemon listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig configures agent token verification. The secret comes from
// SAFEGUARD_JWT_SECRET, never from the file.
type AuthConfig struct {
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TokenTTL time.Duration `yaml:"token_ttl"`

	JWTSecret string `yaml:"-"`
}

// RedisConfig locates the metric collector backend. An empty addr disables
// monitoring in the daemon.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	Password string `yaml:"-"`
}

// WebhookConfig configures high-risk alert delivery. An empty URL disables
// the notifier.
type WebhookConfig struct {
	URL string `yaml:"url"`

	Secret string `yaml:"-"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Audit: AuditConfig{
			Dir: ".safeguard/audit",
		},
		HTTP: HTTPConfig{
			Addr: ":8440",
		},
		Auth: AuthConfig{
			Issuer:   "safeguard",
			TokenTTL: 15 * time.Minute,
		},
		Redis: RedisConfig{
			KeyPrefix: "safeguard:",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the given path, or DefaultPath when path is
// empty. A missing file is not an error; defaults apply. Environment
// secrets are overlaid afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.loadEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) loadEnv() {
	c.Auth.JWTSecret = os.Getenv("SAFEGUARD_JWT_SECRET")
	c.Redis.Password = os.Getenv("SAFEGUARD_REDIS_PASSWORD")
	c.Webhook.Secret = os.Getenv("SAFEGUARD_WEBHOOK_SECRET")
	if addr := strings.TrimSpace(os.Getenv("SAFEGUARD_REDIS_ADDR")); addr != "" {
		c.Redis.Addr = addr
	}
}

// SigningKey loads the HMAC key per the audit config. Nil with a nil error
// means the trail runs keyless.
func (c *Config) SigningKey() ([]byte, error) {
	if c.Audit.SigningKeyFile != "" {
		key, err := os.ReadFile(c.Audit.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		return []byte(strings.TrimSpace(string(key))), nil
	}
	if env := os.Getenv("SAFEGUARD_SIGNING_KEY"); env != "" {
		return []byte(env), nil
	}
	return nil, nil
}
