// Package config loads the plugin host configuration from a YAML file and
// COPILOT_PLUGINS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. COPILOT_PLUGINS_SERVER__PORT
// maps to server.port.
const EnvPrefix = "COPILOT_PLUGINS_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Plugins   PluginsConfig   `koanf:"plugins"`
	Events    EventsConfig    `koanf:"events"`
}

type ServerConfig struct {
	Enabled bool           `koanf:"enabled"`
	Port    int            `koanf:"port"`
	APIKeys []APIKeyConfig `koanf:"api_keys"` // Empty leaves the bridge open
}

// APIKeyConfig admits one bearer token to the HTTP bridge. Only the SHA-256
// hash of the key is stored.
type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type PluginsConfig struct {
	Dir      string           `koanf:"dir"`
	Settings []PluginSettings `koanf:"settings"`
	Webhooks []WebhookConfig  `koanf:"webhooks"`
}

// PluginSettings is the configuration surface handed to one plugin. It is a
// list entry rather than a map key because plugin ids contain dots.
type PluginSettings struct {
	ID     string         `koanf:"id"`
	Config map[string]any `koanf:"config"`
}

// WebhookConfig declares a remote plugin reached over HTTP.
type WebhookConfig struct {
	ID           string            `koanf:"id"`
	Name         string            `koanf:"name"`
	Version      string            `koanf:"version"`
	Description  string            `koanf:"description"`
	URL          string            `koanf:"url"`
	Timeout      string            `koanf:"timeout"`  // Duration string like "5s"
	OnError      string            `koanf:"on_error"` // allow or deny (default)
	Retries      int               `koanf:"retries"`
	Headers      map[string]string `koanf:"headers"`
	RateLimit    float64           `koanf:"rate_limit"` // Calls per second, 0 = unlimited
	Burst        int               `koanf:"burst"`
	BlockPrivate bool              `koanf:"block_private"` // Refuse loopback and private addresses
	OAuth        *OAuthConfig      `koanf:"oauth"`
}

// OAuthConfig enables the client-credentials flow for a webhook.
type OAuthConfig struct {
	TokenURL     string   `koanf:"token_url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	Scopes       []string `koanf:"scopes"`
}

type EventsConfig struct {
	Driver string       `koanf:"driver"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
	Memory MemoryConfig `koanf:"memory"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type MemoryConfig struct {
	Capacity int `koanf:"capacity"`
}

var (
	envVarPattern  = regexp.MustCompile(`\$\{([^}]+)\}`)
	keyHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Load reads path (a missing file is fine) and applies environment overrides
// and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Plugins.Webhooks {
		wh := &cfg.Plugins.Webhooks[i]
		wh.URL = substituteEnvVars(wh.URL)
		for h, v := range wh.Headers {
			wh.Headers[h] = substituteEnvVars(v)
		}
		if wh.OAuth != nil {
			wh.OAuth.ClientID = substituteEnvVars(wh.OAuth.ClientID)
			wh.OAuth.ClientSecret = substituteEnvVars(wh.OAuth.ClientSecret)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.enabled":         true,
		"server.port":            8787,
		"logging.level":          "info",
		"logging.format":         "json",
		"telemetry.service_name": "copilot-plugins",
		"plugins.dir":            "plugins",
		"events.driver":          "memory",
		"events.memory.capacity": 1024,
		"events.sqlite.path":     "copilot-plugins-events.db",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Events.Driver {
	case "memory", "sqlite", "none":
	default:
		return fmt.Errorf("events.driver: unknown driver %q", c.Events.Driver)
	}

	for i, key := range c.Server.APIKeys {
		if !keyHashPattern.MatchString(key.KeyHash) {
			return fmt.Errorf("server.api_keys[%d]: key_hash must be a hex SHA-256 digest", i)
		}
	}

	seen := make(map[string]bool)
	for i, wh := range c.Plugins.Webhooks {
		if wh.ID == "" {
			return fmt.Errorf("plugins.webhooks[%d]: id is required", i)
		}
		if wh.URL == "" {
			return fmt.Errorf("plugins.webhooks[%d] (%s): url is required", i, wh.ID)
		}
		switch wh.OnError {
		case "", "allow", "deny":
		default:
			return fmt.Errorf("plugins.webhooks[%d] (%s): invalid on_error %q (must be 'allow' or 'deny')", i, wh.ID, wh.OnError)
		}
		if seen[wh.ID] {
			return fmt.Errorf("plugins.webhooks[%d]: duplicate id %s", i, wh.ID)
		}
		seen[wh.ID] = true
	}
	return nil
}

// SettingsFor returns the configuration of plugin id, or nil.
func (p PluginsConfig) SettingsFor(id string) map[string]any {
	for _, s := range p.Settings {
		if s.ID == id {
			return s.Config
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
