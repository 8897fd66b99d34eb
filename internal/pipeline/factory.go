package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/safehttp"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// DefaultWebhookTimeout applies when a webhook sets no timeout.
const DefaultWebhookTimeout = 5 * time.Second

// NewWebhooksFromConfig builds one webhook plugin per configured entry, in
// configuration order.
func NewWebhooksFromConfig(cfgs []config.WebhookConfig) ([]*WebhookPlugin, error) {
	out := make([]*WebhookPlugin, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := NewWebhookFromConfig(c)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: %w", c.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// NewWebhookFromConfig builds a webhook plugin from its configuration.
func NewWebhookFromConfig(cfg config.WebhookConfig) (*WebhookPlugin, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	timeout := DefaultWebhookTimeout
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}

	var onError Action
	switch cfg.OnError {
	case "", "deny":
		onError = ActionDeny
	case "allow":
		onError = ActionAllow
	default:
		return nil, fmt.Errorf("invalid on_error %q (must be 'allow' or 'deny')", cfg.OnError)
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	var transport http.RoundTripper
	if cfg.BlockPrivate {
		transport = safehttp.NewTransport()
	}

	var oauth *clientcredentials.Config
	if cfg.OAuth != nil {
		if cfg.OAuth.TokenURL == "" {
			return nil, fmt.Errorf("oauth.token_url is required")
		}
		oauth = &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
	}

	return NewWebhookPlugin(WebhookConfig{
		Info: plugin.Info{
			ID:          cfg.ID,
			Name:        name,
			Version:     cfg.Version,
			Description: cfg.Description,
			Author:      "webhook",
		},
		URL:       cfg.URL,
		Timeout:   timeout,
		OnError:   onError,
		Retries:   cfg.Retries,
		Headers:   cfg.Headers,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		OAuth:     oauth,
		Transport: transport,
	}), nil
}
