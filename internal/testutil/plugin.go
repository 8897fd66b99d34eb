package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Calls is a shared, ordered log of hook invocations across plugins.
type Calls struct {
	mu  sync.Mutex
	log []string
}

func (c *Calls) add(s string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.log = append(c.log, s)
	c.mu.Unlock()
}

// Log returns a copy of the recorded calls, formatted "<id>.<hook>".
func (c *Calls) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// Count returns how many recorded calls equal s.
func (c *Calls) Count(s string) int {
	n := 0
	for _, l := range c.Log() {
		if l == s {
			n++
		}
	}
	return n
}

// RecordingPlugin is a configurable plugin double that records every hook
// call.
type RecordingPlugin struct {
	plugin.Base
	Calls *Calls

	InitErr     error
	ShutdownErr error

	// OnInit runs at the start of Initialize when set.
	OnInit func()

	// Before and After replace the pass-through hooks when set.
	Before func(plugin.RequestContext) (plugin.RequestContext, error)
	After  func(plugin.ResponseContext) (plugin.ResponseContext, error)

	mu        sync.Mutex
	inits     int
	shutdowns int
}

// NewRecordingPlugin returns a pass-through plugin with the given id.
func NewRecordingPlugin(id string, calls *Calls) *RecordingPlugin {
	return &RecordingPlugin{
		Base:  plugin.NewBase(plugin.Info{ID: id, Name: id, Version: "0.0.1"}),
		Calls: calls,
	}
}

func (p *RecordingPlugin) Initialize(ctx context.Context, host *plugin.Host) error {
	p.mu.Lock()
	p.inits++
	p.mu.Unlock()
	p.Calls.add(p.Info().ID + ".initialize")
	if p.OnInit != nil {
		p.OnInit()
	}
	if p.InitErr != nil {
		return p.InitErr
	}
	return p.Base.Initialize(ctx, host)
}

func (p *RecordingPlugin) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	p.Calls.add(p.Info().ID + ".before_request")
	if p.Before != nil {
		return p.Before(req)
	}
	return req, nil
}

func (p *RecordingPlugin) AfterResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	p.Calls.add(p.Info().ID + ".after_response")
	if p.After != nil {
		return p.After(resp)
	}
	return resp, nil
}

func (p *RecordingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdowns++
	p.mu.Unlock()
	p.Calls.add(p.Info().ID + ".shutdown")
	return p.ShutdownErr
}

// Inits returns how many times Initialize ran.
func (p *RecordingPlugin) Inits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits
}

// Shutdowns returns how many times Shutdown ran.
func (p *RecordingPlugin) Shutdowns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns
}

// ErrBoom is a canned hook failure.
var ErrBoom = errors.New("boom")
