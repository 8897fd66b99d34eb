package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/barrersoftware/copilot-plugin-system/internal/pipeline"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Manifest kinds.
const (
	KindBuiltin = "builtin"
	KindWebhook = "webhook"
)

// Manifest is a YAML module descriptor.
//
//	kind: builtin
//	module: copilot.safety
//
//	kind: webhook
//	webhook:
//	  id: acme.moderation
//	  url: https://moderation.example.com/v1/hook
//	  on_error: allow
type Manifest struct {
	Kind    string           `yaml:"kind"`
	Module  string           `yaml:"module,omitempty"`
	Webhook *WebhookManifest `yaml:"webhook,omitempty"`
}

// WebhookManifest mirrors config.WebhookConfig with YAML field names.
type WebhookManifest struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Description  string            `yaml:"description"`
	URL          string            `yaml:"url"`
	Timeout      string            `yaml:"timeout"`
	OnError      string            `yaml:"on_error"`
	Retries      int               `yaml:"retries"`
	Headers      map[string]string `yaml:"headers"`
	RateLimit    float64           `yaml:"rate_limit"`
	Burst        int               `yaml:"burst"`
	BlockPrivate bool              `yaml:"block_private"`
	OAuth        *struct {
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"oauth"`
}

func (w *WebhookManifest) config() config.WebhookConfig {
	c := config.WebhookConfig{
		ID:           w.ID,
		Name:         w.Name,
		Version:      w.Version,
		Description:  w.Description,
		URL:          os.ExpandEnv(w.URL),
		Timeout:      w.Timeout,
		OnError:      w.OnError,
		Retries:      w.Retries,
		Headers:      make(map[string]string, len(w.Headers)),
		RateLimit:    w.RateLimit,
		Burst:        w.Burst,
		BlockPrivate: w.BlockPrivate,
	}
	for k, v := range w.Headers {
		c.Headers[k] = os.ExpandEnv(v)
	}
	if w.OAuth != nil {
		c.OAuth = &config.OAuthConfig{
			TokenURL:     w.OAuth.TokenURL,
			ClientID:     os.ExpandEnv(w.OAuth.ClientID),
			ClientSecret: os.ExpandEnv(w.OAuth.ClientSecret),
			Scopes:       w.OAuth.Scopes,
		}
	}
	return c
}

// OpenManifest reads a manifest file and resolves it to a module.
func OpenManifest(path string) (plugin.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plugin.Module{}, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return plugin.Module{}, err
	}
	return m.Resolve(filepath.Base(path))
}

// ParseManifest decodes a manifest, rejecting unknown fields.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Resolve builds the module the manifest describes. name is used when the
// manifest itself does not name one.
func (m *Manifest) Resolve(name string) (plugin.Module, error) {
	switch m.Kind {
	case KindBuiltin:
		if m.Module == "" {
			return plugin.Module{}, fmt.Errorf("builtin manifest requires module")
		}
		b, ok := GetModule(m.Module)
		if !ok {
			return plugin.Module{}, fmt.Errorf("unknown builtin module %q (available: %v)", m.Module, ModuleNames())
		}
		mod := b.Module()
		if mod.Name == "" {
			mod.Name = b.Name
		}
		return mod, nil

	case KindWebhook:
		if m.Webhook == nil {
			return plugin.Module{}, fmt.Errorf("webhook manifest requires a webhook section")
		}
		cfg := m.Webhook.config()
		// Validate now so a bad manifest fails as a module, not a factory.
		if _, err := pipeline.NewWebhookFromConfig(cfg); err != nil {
			return plugin.Module{}, fmt.Errorf("webhook %s: %w", cfg.ID, err)
		}
		return plugin.Module{
			Name: name,
			Factories: []plugin.Factory{
				func() (plugin.Plugin, error) {
					return pipeline.NewWebhookFromConfig(cfg)
				},
			},
		}, nil

	case "":
		return plugin.Module{}, fmt.Errorf("manifest kind is required")
	default:
		return plugin.Module{}, fmt.Errorf("unknown manifest kind %q", m.Kind)
	}
}
