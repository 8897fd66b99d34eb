// Package analytics provides a plugin that tracks conversation turns,
// response timings and token usage, and periodically emits a summary
// insight.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/barrersoftware/copilot-plugin-system/internal/tokens"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

const ID = "copilot.analytics"

// DefaultInsightInterval is the number of responses between insights.
const DefaultInsightInterval = 5

// Metadata and store keys written by the plugin.
const (
	KeyTurn        = "analytics.turn"
	KeyTokens      = "analytics.prompt_tokens"
	KeyInsight     = "analytics.insight"
	KeyInsights    = "analytics.insights"
	KeyLastInsight = "analytics.last_insight"
)

// Stats is a point-in-time view of the collected counters.
type Stats struct {
	Turns          int
	Responses      int
	Successes      int
	Insights       int
	PromptTokens   int
	ResponseTokens int
	TotalDuration  time.Duration
}

// SuccessRate returns the fraction of successful responses, or 0.
func (s Stats) SuccessRate() float64 {
	if s.Responses == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Responses)
}

// AverageDuration returns the mean response duration, or 0.
func (s Stats) AverageDuration() time.Duration {
	if s.Responses == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Responses)
}

// Plugin collects conversation analytics.
type Plugin struct {
	plugin.Base

	interval int
	counter  tokens.Counter

	mu    sync.Mutex
	stats Stats
}

// New returns an uninitialized analytics plugin.
func New() *Plugin {
	return &Plugin{
		Base: plugin.NewBase(plugin.Info{
			ID:          ID,
			Name:        "Analytics",
			Version:     "1.0.0",
			Description: "Counts turns and token usage and reports periodic insights",
			Author:      "copilot",
		}),
		interval: DefaultInsightInterval,
	}
}

// Module exposes the plugin to the loader.
func Module() plugin.Module {
	return plugin.NewModule(ID, func() plugin.Plugin { return New() })
}

// Initialize reads insight_interval and model from the plugin config.
func (p *Plugin) Initialize(ctx context.Context, host *plugin.Host) error {
	if err := p.Base.Initialize(ctx, host); err != nil {
		return err
	}
	var cfg plugin.Metadata
	if host != nil {
		cfg = host.Config
	}

	p.interval = int(cfg.GetNumber("insight_interval", DefaultInsightInterval))
	if p.interval < 1 {
		p.interval = DefaultInsightInterval
	}
	p.counter = tokens.NewCounter(cfg.GetString("model"))
	return nil
}

// Stats returns a copy of the current counters.
func (p *Plugin) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// BeforeRequest counts the turn and its prompt tokens.
func (p *Plugin) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	n := p.count(req.Prompt)

	p.mu.Lock()
	p.stats.Turns++
	p.stats.PromptTokens += n
	turn := p.stats.Turns
	p.mu.Unlock()

	req = req.Clone()
	req.Metadata[KeyTurn] = plugin.Int(turn)
	req.Metadata[KeyTokens] = plugin.Int(n)
	return req, nil
}

// AfterResponse records the response and, every interval responses,
// attaches an insight to it.
func (p *Plugin) AfterResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	n := p.count(resp.Response)

	p.mu.Lock()
	p.stats.Responses++
	if resp.Success && resp.Error == "" {
		p.stats.Successes++
	}
	p.stats.ResponseTokens += n
	p.stats.TotalDuration += resp.Duration
	due := p.stats.Responses%p.interval == 0
	if due {
		p.stats.Insights++
	}
	snap := p.stats
	p.mu.Unlock()

	if !due {
		return resp, nil
	}

	insight := plugin.Metadata{
		"turns":           plugin.Int(snap.Turns),
		"responses":       plugin.Int(snap.Responses),
		"success_rate":    plugin.Number(snap.SuccessRate()),
		"avg_duration_ms": plugin.Number(float64(snap.AverageDuration()) / float64(time.Millisecond)),
		"prompt_tokens":   plugin.Int(snap.PromptTokens),
		"response_tokens": plugin.Int(snap.ResponseTokens),
	}
	p.Logger().Info("conversation insight",
		slog.Int("turns", snap.Turns),
		slog.Int("responses", snap.Responses),
		slog.Float64("success_rate", snap.SuccessRate()),
		slog.Duration("avg_duration", snap.AverageDuration()),
		slog.Int("prompt_tokens", snap.PromptTokens),
		slog.Int("response_tokens", snap.ResponseTokens))

	if h := p.Host(); h != nil && h.Data != nil {
		h.Data.Set(KeyInsights, plugin.Int(snap.Insights))
		h.Data.Set(KeyLastInsight, plugin.Map(insight))
	}

	resp = resp.Clone()
	resp.Metadata[KeyInsight] = plugin.Map(insight)
	return resp, nil
}

func (p *Plugin) count(text string) int {
	if p.counter == nil {
		return 0
	}
	n, err := p.counter.CountText(text)
	if err != nil {
		p.Logger().Debug("token count failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}

var _ plugin.Plugin = (*Plugin)(nil)
