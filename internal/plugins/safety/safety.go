// Package safety provides a plugin that cancels requests containing
// destructive shell commands and redacts credentials from responses.
//
// Configuration (plugins.settings entry for copilot.safety):
//
//	patterns:        {name: regexp}  replaces the default blocklist
//	extra_patterns:  {name: regexp}  added to the blocklist
//	redact_secrets:  bool            default true
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

const (
	ID = "copilot.safety"

	// CancelReason is set on requests the plugin blocks.
	CancelReason = "unsafe pattern"

	// BlockedPrompt replaces the prompt of a blocked request.
	BlockedPrompt = "[blocked by copilot.safety]"

	// Redacted replaces each credential found in a response.
	Redacted = "[REDACTED]"
)

// Metadata keys written by the plugin.
const (
	KeyBlocked  = "safety.blocked"
	KeyPattern  = "safety.pattern"
	KeyRedacted = "safety.redacted"
)

// DefaultPatterns is the blocklist used when none is configured.
var DefaultPatterns = map[string]string{
	"rm-root":   `rm\s+-(?:[a-zA-Z]*r[a-zA-Z]*f|[a-zA-Z]*f[a-zA-Z]*r)[a-zA-Z]*\s+/(?:\s|\*|$)`,
	"fork-bomb": regexp.QuoteMeta(":(){ :|:& };:"),
	"mkfs":      `\bmkfs(?:\.[a-z0-9]+)?\s+/dev/`,
	"dd-device": `\bdd\s+.*\bof=/dev/`,
	"chmod-777": `chmod\s+-R\s+777\s+/(?:\s|$)`,
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Plugin blocks unsafe prompts and redacts secrets.
type Plugin struct {
	plugin.Base

	rules  []rule
	redact bool
}

// New returns an uninitialized safety plugin.
func New() *Plugin {
	return &Plugin{
		Base: plugin.NewBase(plugin.Info{
			ID:          ID,
			Name:        "Safety",
			Version:     "1.0.0",
			Description: "Blocks destructive shell commands and redacts credentials",
			Author:      "copilot",
		}),
	}
}

// Module exposes the plugin to the loader.
func Module() plugin.Module {
	return plugin.NewModule(ID, func() plugin.Plugin { return New() })
}

func (p *Plugin) Initialize(ctx context.Context, host *plugin.Host) error {
	if err := p.Base.Initialize(ctx, host); err != nil {
		return err
	}
	var cfg plugin.Metadata
	if host != nil {
		cfg = host.Config
	}

	patterns := DefaultPatterns
	if v, ok := cfg.Get("patterns"); ok {
		m, err := stringMap(v)
		if err != nil {
			return fmt.Errorf("patterns: %w", err)
		}
		patterns = m
	}
	merged := make(map[string]string, len(patterns))
	for k, v := range patterns {
		merged[k] = v
	}
	if v, ok := cfg.Get("extra_patterns"); ok {
		m, err := stringMap(v)
		if err != nil {
			return fmt.Errorf("extra_patterns: %w", err)
		}
		for k, v := range m {
			merged[k] = v
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	p.rules = p.rules[:0]
	for _, name := range names {
		re, err := regexp.Compile(merged[name])
		if err != nil {
			return fmt.Errorf("pattern %s: %w", name, err)
		}
		p.rules = append(p.rules, rule{name: name, re: re})
	}
	p.redact = cfg.GetBool("redact_secrets", true)

	p.Logger().Debug("safety rules loaded", slog.Int("patterns", len(p.rules)), slog.Bool("redact", p.redact))
	return nil
}

// BeforeRequest cancels the request when the prompt matches a blocked
// pattern.
func (p *Plugin) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	for _, r := range p.rules {
		if !r.re.MatchString(req.Prompt) {
			continue
		}
		p.Logger().Warn("blocked unsafe prompt", slog.String("pattern", r.name))
		req = req.Clone()
		req.Prompt = BlockedPrompt
		req.Metadata[KeyBlocked] = plugin.Bool(true)
		req.Metadata[KeyPattern] = plugin.String(r.name)
		return req.Cancelled(CancelReason), nil
	}
	return req, nil
}

// AfterResponse replaces credentials in the response text.
func (p *Plugin) AfterResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	if !p.redact || resp.Response == "" {
		return resp, nil
	}
	n := 0
	text := resp.Response
	for _, re := range secretPatterns {
		text = re.ReplaceAllStringFunc(text, func(string) string {
			n++
			return Redacted
		})
	}
	if n == 0 {
		return resp, nil
	}
	p.Logger().Info("redacted secrets from response", slog.Int("count", n))
	resp = resp.Clone()
	resp.Response = text
	resp.Metadata[KeyRedacted] = plugin.Int(n)
	return resp, nil
}

func stringMap(v plugin.Value) (map[string]string, error) {
	fields, ok := v.Fields()
	if !ok {
		return nil, fmt.Errorf("want a map of name to pattern, got %s", v.Kind())
	}
	out := make(map[string]string, len(fields))
	for k, fv := range fields {
		s, ok := fv.Str()
		if !ok {
			return nil, fmt.Errorf("%s: want a string, got %s", k, fv.Kind())
		}
		out[k] = s
	}
	return out, nil
}

var _ plugin.Plugin = (*Plugin)(nil)
