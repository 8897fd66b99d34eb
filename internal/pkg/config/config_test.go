package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8787 || !cfg.Server.Enabled {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Plugins.Dir != "plugins" {
		t.Errorf("plugins.dir = %q", cfg.Plugins.Dir)
	}
	if cfg.Events.Driver != "memory" || cfg.Events.Memory.Capacity != 1024 {
		t.Errorf("events = %+v", cfg.Events)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COPILOT_PLUGINS_SERVER__PORT", "9000")
	t.Setenv("COPILOT_PLUGINS_PLUGINS__DIR", "/opt/plugins")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Plugins.Dir != "/opt/plugins" {
		t.Errorf("dir = %q", cfg.Plugins.Dir)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "s3cret")

	path := writeConfig(t, `
server:
  enabled: false
  port: 9100
plugins:
  dir: ./ext
  settings:
    - id: copilot.analytics
      config:
        insight_interval: 3
  webhooks:
    - id: audit.hook
      url: https://audit.example.com/hook
      timeout: 2s
      on_error: allow
      retries: 2
      headers:
        Authorization: Bearer ${HOOK_TOKEN}
      oauth:
        token_url: https://auth.example.com/token
        client_id: client
        client_secret: ${HOOK_TOKEN}
events:
  driver: sqlite
  sqlite:
    path: /tmp/events.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Enabled || cfg.Server.Port != 9100 {
		t.Errorf("server = %+v", cfg.Server)
	}
	settings := cfg.Plugins.SettingsFor("copilot.analytics")
	if settings == nil {
		t.Fatal("settings for copilot.analytics missing")
	}
	if v, ok := settings["insight_interval"].(int); !ok || v != 3 {
		t.Errorf("insight_interval = %#v", settings["insight_interval"])
	}
	if cfg.Plugins.SettingsFor("unknown") != nil {
		t.Error("SettingsFor(unknown) should be nil")
	}

	if len(cfg.Plugins.Webhooks) != 1 {
		t.Fatalf("webhooks = %d", len(cfg.Plugins.Webhooks))
	}
	wh := cfg.Plugins.Webhooks[0]
	if wh.Headers["Authorization"] != "Bearer s3cret" {
		t.Errorf("header substitution = %q", wh.Headers["Authorization"])
	}
	if wh.OAuth == nil || wh.OAuth.ClientSecret != "s3cret" {
		t.Errorf("oauth = %+v", wh.OAuth)
	}
	if cfg.Events.Driver != "sqlite" || cfg.Events.SQLite.Path != "/tmp/events.db" {
		t.Errorf("events = %+v", cfg.Events)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad driver",
			body: "events:\n  driver: kafka\n",
			want: "unknown driver",
		},
		{
			name: "webhook without url",
			body: "plugins:\n  webhooks:\n    - id: x\n",
			want: "url is required",
		},
		{
			name: "bad on_error",
			body: "plugins:\n  webhooks:\n    - id: x\n      url: http://x\n      on_error: maybe\n",
			want: "invalid on_error",
		},
		{
			name: "duplicate webhook",
			body: "plugins:\n  webhooks:\n    - id: x\n      url: http://x\n    - id: x\n      url: http://y\n",
			want: "duplicate id",
		},
		{
			name: "plaintext api key",
			body: "server:\n  api_keys:\n    - key_hash: my-secret\n",
			want: "key_hash must be a hex SHA-256 digest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple substitution", input: "${TEST_VAR}", want: "test-value"},
		{name: "embedded", input: "Bearer ${TEST_VAR}!", want: "Bearer test-value!"},
		{name: "unset var", input: "${NOT_SET_ANYWHERE_123}", want: ""},
		{name: "no vars", input: "plain", want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
