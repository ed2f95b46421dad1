package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	envConfigPath  = "SYNOCHAT_CONFIG"
	envWebhookURL  = "SYNOCHAT_WEBHOOK_URL"
	envWebhookPath = "SYNOCHAT_WEBHOOK_PATH"

	DefaultWebhookPath           = "/synology-chat"
	DefaultMaxBodyBytes          = 1 << 20
	DefaultHandlerTimeoutSeconds = 30
	DefaultRequestTimeoutSeconds = 30
	DefaultGatewayHost           = "0.0.0.0"
	DefaultGatewayPort           = 18790
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Webhook WebhookConfig `json:"webhook"`
	Sender  SenderConfig  `json:"sender"`
	Gateway GatewayConfig `json:"gateway"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// WebhookConfig configures the inbound webhook route.
type WebhookConfig struct {
	Path                  string `json:"path"`
	Required              bool   `json:"required"`
	MaxBodyBytes          int64  `json:"max_body_bytes"`
	HandlerTimeoutSeconds int    `json:"handler_timeout_seconds"`
	// Echo makes the built-in serve handler reply with the received text.
	Echo bool `json:"echo"`
}

// SenderConfig configures outbound delivery to the platform's incoming webhook.
type SenderConfig struct {
	WebhookURL            string `json:"webhook_url"`
	Encoding              string `json:"encoding"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	SkipValidation        bool   `json:"skip_validation"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Path:                  DefaultWebhookPath,
			MaxBodyBytes:          DefaultMaxBodyBytes,
			HandlerTimeoutSeconds: DefaultHandlerTimeoutSeconds,
		},
		Sender: SenderConfig{
			Encoding:              "json",
			RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		},
		Gateway: GatewayConfig{
			Host: DefaultGatewayHost,
			Port: DefaultGatewayPort,
		},
	}
}

// HandlerTimeout returns the handler deadline; zero disables it.
func (c WebhookConfig) HandlerTimeout() time.Duration {
	return secondsDuration(c.HandlerTimeoutSeconds)
}

// RequestTimeout returns the outbound request deadline; zero disables it.
func (c SenderConfig) RequestTimeout() time.Duration {
	return secondsDuration(c.RequestTimeoutSeconds)
}

func secondsDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides. Without a config file the defaults are used.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values that cannot be served.
func (c *Config) Validate() error {
	path := strings.TrimSpace(c.Webhook.Path)
	if path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("webhook.path must start with /: %q", path)
	}

	switch strings.ToLower(strings.TrimSpace(c.Sender.Encoding)) {
	case "", "json", "form":
	default:
		return fmt.Errorf("sender.encoding must be json or form: %q", c.Sender.Encoding)
	}

	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("webhook.max_body_bytes must not be negative: %d", c.Webhook.MaxBodyBytes)
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv(envWebhookURL)); value != "" {
		cfg.Sender.WebhookURL = value
	}

	if value := strings.TrimSpace(os.Getenv(envWebhookPath)); value != "" {
		cfg.Webhook.Path = value
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is SYNOCHAT_CONFIG first, then cwd-local fallback paths. An empty
// path without error means no config file exists.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
