package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/internal/testutil"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

func webhookServer(t *testing.T, handler func(in WebhookInput) (int, any)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var in WebhookInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode webhook input: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got := r.Header.Get(PhaseHeader); got != in.Phase {
			t.Errorf("phase header = %q, body phase = %q", got, in.Phase)
		}
		code, body := handler(in)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestWebhook(url string, mod func(*WebhookConfig)) *WebhookPlugin {
	cfg := WebhookConfig{
		Info:    plugin.Info{ID: "hook", Name: "Hook"},
		URL:     url,
		Timeout: 2 * time.Second,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewWebhookPlugin(cfg)
}

func TestWebhookPlugin_Allow(t *testing.T) {
	srv, calls := webhookServer(t, func(in WebhookInput) (int, any) {
		if in.Phase != PhaseRequest || in.PluginID != "hook" || in.Request == nil || in.Request.Prompt != "hi" {
			t.Errorf("unexpected input: %+v", in)
		}
		return http.StatusOK, WebhookOutput{Action: ActionAllow}
	})

	w := newTestWebhook(srv.URL, nil)
	out, err := w.BeforeRequest(context.Background(), plugin.NewRequest("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Prompt != "hi" || out.Cancel {
		t.Errorf("out = %+v", out)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("calls = %d", atomic.LoadInt32(calls))
	}
}

func TestWebhookPlugin_DenyCancelsRequest(t *testing.T) {
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusOK, WebhookOutput{Action: ActionDeny, DenyReason: "policy"}
	})

	out, err := newTestWebhook(srv.URL, nil).BeforeRequest(context.Background(), plugin.NewRequest("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Cancel || out.CancelReason != "policy" {
		t.Errorf("out = %+v", out)
	}
}

func TestWebhookPlugin_Mutate(t *testing.T) {
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		switch in.Phase {
		case PhaseRequest:
			req := *in.Request
			req.Prompt = "rewritten"
			req.Metadata = plugin.Metadata{"hook": plugin.Bool(true)}
			return http.StatusOK, WebhookOutput{Action: ActionMutate, Request: &req}
		default:
			resp := *in.Response
			resp.Response = "rewritten response"
			return http.StatusOK, WebhookOutput{Action: ActionMutate, Response: &resp}
		}
	})
	w := newTestWebhook(srv.URL, nil)

	req, err := w.BeforeRequest(context.Background(), plugin.NewRequest("orig"))
	if err != nil {
		t.Fatalf("BeforeRequest error: %v", err)
	}
	if req.Prompt != "rewritten" || !req.Metadata.GetBool("hook", false) {
		t.Errorf("req = %+v", req)
	}

	resp, err := w.AfterResponse(context.Background(), plugin.NewResponse("orig", time.Second))
	if err != nil {
		t.Fatalf("AfterResponse error: %v", err)
	}
	if resp.Response != "rewritten response" || resp.Duration != time.Second {
		t.Errorf("resp = %+v", resp)
	}
}

func TestWebhookPlugin_ResponseDenyIsError(t *testing.T) {
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusOK, WebhookOutput{Action: ActionDeny, DenyReason: "leak"}
	})

	resp := plugin.NewResponse("secret", 0)
	out, err := newTestWebhook(srv.URL, nil).AfterResponse(context.Background(), resp)
	if !IsDenied(err) {
		t.Fatalf("error = %v, want DeniedError", err)
	}
	if out.Response != "secret" {
		t.Errorf("response changed on deny: %q", out.Response)
	}
	if !IsDenied(domain.NewHookError("test.webhook", domain.HookAfterResponse, err)) {
		t.Error("IsDenied does not see through a HookError")
	}
}

func TestWebhookPlugin_OnError(t *testing.T) {
	srv, calls := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusInternalServerError, map[string]string{"error": "down"}
	})

	t.Run("deny cancels request", func(t *testing.T) {
		out, err := newTestWebhook(srv.URL, nil).BeforeRequest(context.Background(), plugin.NewRequest("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Cancel {
			t.Error("fail-closed webhook did not cancel")
		}
	})

	t.Run("deny fails response hook", func(t *testing.T) {
		_, err := newTestWebhook(srv.URL, nil).AfterResponse(context.Background(), plugin.NewResponse("x", 0))
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("allow passes through", func(t *testing.T) {
		w := newTestWebhook(srv.URL, func(c *WebhookConfig) { c.OnError = ActionAllow })
		out, err := w.BeforeRequest(context.Background(), plugin.NewRequest("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Cancel || out.Prompt != "x" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("retries", func(t *testing.T) {
		before := atomic.LoadInt32(calls)
		w := newTestWebhook(srv.URL, func(c *WebhookConfig) { c.Retries = 2; c.OnError = ActionAllow })
		w.BeforeRequest(context.Background(), plugin.NewRequest("x"))
		if got := atomic.LoadInt32(calls) - before; got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})
}

func TestWebhookPlugin_RetryRecovers(t *testing.T) {
	var n int32
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		if atomic.AddInt32(&n, 1) < 3 {
			return http.StatusBadGateway, nil
		}
		return http.StatusOK, WebhookOutput{Action: ActionDeny, DenyReason: "third time"}
	})

	w := newTestWebhook(srv.URL, func(c *WebhookConfig) { c.Retries = 2 })
	out, _ := w.BeforeRequest(context.Background(), plugin.NewRequest("x"))
	if out.CancelReason != "third time" {
		t.Errorf("CancelReason = %q", out.CancelReason)
	}
}

func TestWebhookPlugin_InvalidAction(t *testing.T) {
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusOK, map[string]string{"action": "explode"}
	})

	w := newTestWebhook(srv.URL, func(c *WebhookConfig) { c.OnError = ActionAllow })
	out, err := w.BeforeRequest(context.Background(), plugin.NewRequest("x"))
	if err != nil || out.Cancel {
		t.Errorf("fail-open on invalid action: out = %+v, err = %v", out, err)
	}
}

func TestWebhookPlugin_RateLimited(t *testing.T) {
	srv, calls := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusOK, WebhookOutput{Action: ActionAllow}
	})

	w := newTestWebhook(srv.URL, func(c *WebhookConfig) {
		c.RateLimit = 0.001
		c.Burst = 1
		c.OnError = ActionAllow
	})

	if _, err := w.BeforeRequest(context.Background(), plugin.NewRequest("x")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.BeforeRequest(ctx, plugin.NewRequest("x")); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("calls = %d, want 1 (second call should be throttled)", atomic.LoadInt32(calls))
	}
}

func TestWebhookPlugin_OAuth(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var auth atomic.Value
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"allow"}`))
	}))
	defer hook.Close()

	w := newTestWebhook(hook.URL, func(c *WebhookConfig) {
		c.OAuth = &clientcredentials.Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL}
	})
	if _, err := w.BeforeRequest(context.Background(), plugin.NewRequest("x")); err != nil {
		t.Fatal(err)
	}
	if got, _ := auth.Load().(string); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestWebhookPlugin_RecordedModeration(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "moderation_webhook")

	w := NewWebhookPlugin(WebhookConfig{
		Info:      plugin.Info{ID: "moderation.remote"},
		URL:       "https://moderation.example.com/v1/hook",
		Timeout:   2 * time.Second,
		Transport: rec,
	})

	req := plugin.NewRequest("tell me a joke")
	req.Metadata["session"] = plugin.String("s-1")

	out, err := w.BeforeRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("BeforeRequest error: %v", err)
	}
	if out.Prompt != "tell me a joke (keep it clean)" {
		t.Errorf("Prompt = %q", out.Prompt)
	}
	if !out.Metadata.GetBool("moderation.checked", false) || out.Metadata.GetString("session") != "s-1" {
		t.Errorf("Metadata = %v", out.Metadata)
	}

	resp, err := w.AfterResponse(context.Background(), plugin.NewResponse("knock knock", 0))
	if err != nil {
		t.Fatalf("AfterResponse error: %v", err)
	}
	if resp.Response != "knock knock" {
		t.Errorf("Response = %q", resp.Response)
	}
}

func TestNewWebhookFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.WebhookConfig
		wantErr bool
	}{
		{name: "minimal", cfg: config.WebhookConfig{ID: "a", URL: "http://x"}},
		{name: "full", cfg: config.WebhookConfig{
			ID: "b", URL: "http://x", Timeout: "250ms", OnError: "allow", Retries: 1,
			RateLimit: 5, Burst: 2, BlockPrivate: true,
			OAuth: &config.OAuthConfig{TokenURL: "http://auth/token", ClientID: "c"},
		}},
		{name: "missing id", cfg: config.WebhookConfig{URL: "http://x"}, wantErr: true},
		{name: "missing url", cfg: config.WebhookConfig{ID: "a"}, wantErr: true},
		{name: "bad timeout", cfg: config.WebhookConfig{ID: "a", URL: "http://x", Timeout: "soon"}, wantErr: true},
		{name: "bad on_error", cfg: config.WebhookConfig{ID: "a", URL: "http://x", OnError: "maybe"}, wantErr: true},
		{name: "oauth without token url", cfg: config.WebhookConfig{ID: "a", URL: "http://x", OAuth: &config.OAuthConfig{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewWebhookFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if p.Info().ID != tt.cfg.ID || p.Info().Name == "" {
				t.Errorf("Info = %+v", p.Info())
			}
		})
	}

	ps, err := NewWebhooksFromConfig([]config.WebhookConfig{{ID: "one", URL: "http://x"}, {ID: "two", URL: "http://y"}})
	if err != nil || len(ps) != 2 || ps[1].Info().ID != "two" {
		t.Errorf("NewWebhooksFromConfig = %v, %v", ps, err)
	}
}

func TestWebhookPlugin_InDispatch(t *testing.T) {
	srv, _ := webhookServer(t, func(in WebhookInput) (int, any) {
		return http.StatusOK, WebhookOutput{Action: ActionDeny, DenyReason: "remote says no"}
	})

	calls := &testutil.Calls{}
	after := testutil.NewRecordingPlugin("after", calls)

	chain := newChain(t)
	ctx := context.Background()
	if err := chain.Register(ctx, newTestWebhook(srv.URL, nil), "webhook"); err != nil {
		t.Fatal(err)
	}
	chain.Register(ctx, after, "")

	out, err := NewDispatcher(chain).RunBefore(ctx, plugin.NewRequest("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Cancel || out.CancelReason != "remote says no" {
		t.Errorf("out = %+v", out)
	}
	if calls.Count("after.before_request") != 0 {
		t.Error("plugin after webhook deny was invoked")
	}
}
