package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// PhaseHeader names the dispatch phase on outgoing webhook calls.
const PhaseHeader = "X-Copilot-Plugin-Phase"

// Action is a webhook verdict.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionDeny   Action = "deny"
	ActionMutate Action = "mutate"
)

// WebhookInput is the JSON body posted to a webhook.
type WebhookInput struct {
	Phase    string                  `json:"phase"`
	PluginID string                  `json:"plugin_id"`
	Request  *plugin.RequestContext  `json:"request,omitempty"`
	Response *plugin.ResponseContext `json:"response,omitempty"`
}

// WebhookOutput is the JSON body a webhook replies with.
type WebhookOutput struct {
	Action     Action                  `json:"action"`
	Request    *plugin.RequestContext  `json:"request,omitempty"`
	Response   *plugin.ResponseContext `json:"response,omitempty"`
	DenyReason string                  `json:"deny_reason,omitempty"`
}

// DeniedError is returned when a webhook denies a response.
type DeniedError struct {
	PluginID string
	Reason   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("response denied by %s: %s", e.PluginID, e.Reason)
}

// IsDenied returns true if the error is, or wraps, a webhook denial.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// WebhookPlugin is a plugin whose hooks are served by an external HTTP
// endpoint.
type WebhookPlugin struct {
	plugin.Base

	url     string
	onError Action // Action to take on error (allow or deny)
	retries int
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// WebhookConfig configures a webhook plugin.
type WebhookConfig struct {
	Info    plugin.Info
	URL     string
	Timeout time.Duration
	OnError Action // "allow" or "deny" (default: deny)
	Retries int
	Headers map[string]string

	// RateLimit caps calls per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// OAuth enables the client-credentials flow when non-nil.
	OAuth *clientcredentials.Config

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// NewWebhookPlugin creates a new webhook plugin.
func NewWebhookPlugin(cfg WebhookConfig) *WebhookPlugin {
	onError := cfg.OnError
	if onError == "" {
		onError = ActionDeny // Default to fail-closed
	}

	base := &http.Client{Transport: cfg.Transport}
	client := base
	if cfg.OAuth != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cfg.OAuth.Client(ctx)
	}
	client.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &WebhookPlugin{
		Base:    plugin.NewBase(cfg.Info),
		url:     cfg.URL,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
		limiter: limiter,
	}
}

// BeforeRequest asks the webhook to allow, deny or rewrite the request.
func (w *WebhookPlugin) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	out, err := w.process(ctx, &WebhookInput{Phase: PhaseRequest, PluginID: w.Info().ID, Request: &req})
	if err != nil {
		return req, err
	}

	switch out.Action {
	case ActionDeny:
		reason := out.DenyReason
		if reason == "" {
			reason = "denied by webhook " + w.Info().ID
		}
		return req.Cancelled(reason), nil
	case ActionMutate:
		if out.Request != nil {
			return *out.Request, nil
		}
	}
	return req, nil
}

// AfterResponse lets the webhook observe or rewrite the response.
func (w *WebhookPlugin) AfterResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	out, err := w.process(ctx, &WebhookInput{Phase: PhaseResponse, PluginID: w.Info().ID, Response: &resp})
	if err != nil {
		return resp, err
	}

	switch out.Action {
	case ActionDeny:
		return resp, &DeniedError{PluginID: w.Info().ID, Reason: out.DenyReason}
	case ActionMutate:
		if out.Response != nil {
			return *out.Response, nil
		}
	}
	return resp, nil
}

func (w *WebhookPlugin) process(ctx context.Context, in *WebhookInput) (*WebhookOutput, error) {
	var lastErr error

	attempts := w.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				lastErr = fmt.Errorf("rate limit: %w", err)
				break
			}
		}

		output, err := w.doRequest(ctx, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	return w.handleError(in.Phase, lastErr)
}

func (w *WebhookPlugin) doRequest(ctx context.Context, in *WebhookInput) (*WebhookOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(PhaseHeader, in.Phase)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output WebhookOutput
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal webhook output: %w", err)
	}

	switch output.Action {
	case ActionAllow, ActionDeny, ActionMutate:
	case "":
		output.Action = ActionAllow
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", output.Action)
	}

	return &output, nil
}

func (w *WebhookPlugin) handleError(phase string, err error) (*WebhookOutput, error) {
	switch w.onError {
	case ActionAllow:
		w.Logger().Warn("webhook failed, allowing",
			slog.String("phase", phase),
			slog.String("url", w.url),
			slog.String("error", err.Error()))
		return &WebhookOutput{Action: ActionAllow}, nil
	case ActionDeny:
		if phase == PhaseRequest {
			return &WebhookOutput{
				Action:     ActionDeny,
				DenyReason: fmt.Sprintf("webhook error: %v", err),
			}, nil
		}
		return nil, fmt.Errorf("webhook %s failed: %w", w.Info().ID, err)
	default:
		return nil, fmt.Errorf("webhook %s failed: %w", w.Info().ID, err)
	}
}

var _ plugin.Plugin = (*WebhookPlugin)(nil)
