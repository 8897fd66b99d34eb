// Package luaplugin loads plugins written as Lua scripts.
//
// A script declares its identity in a global table and defines any of the
// hook functions as globals:
//
//	plugin = { id = "acme.greeter", name = "Greeter", version = "1.0.0" }
//
//	function initialize(config) end
//	function before_request(req) req.prompt = "hi " .. req.prompt; return req end
//	function after_response(resp) return resp end
//	function shutdown() end
//
// Hooks receive a table and may return it (or a replacement); returning nil
// keeps the table as mutated in place. Calling error() fails the hook.
//
// Scripts can call log(level, msg), store_get(key) and store_set(key, value).
// Only the base, table, string and math libraries are loaded.
//
// Each plugin owns one Lua state, so hook calls on one plugin are
// serialized.
package luaplugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Extension is the file extension handled by Open.
const Extension = ".lua"

const (
	fnInitialize = "initialize"
	fnBefore     = "before_request"
	fnAfter      = "after_response"
	fnShutdown   = "shutdown"
)

// Open compiles the script at path and returns a module with one factory.
// Syntax errors and a missing or invalid plugin table fail here, before
// anything is registered.
func Open(path string) (plugin.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return plugin.Module{}, err
	}
	return Compile(filepath.Base(path), string(src))
}

// Compile is Open for in-memory source.
func Compile(name, src string) (plugin.Module, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return plugin.Module{}, fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return plugin.Module{}, fmt.Errorf("compile: %w", err)
	}

	info, err := readInfo(proto)
	if err != nil {
		return plugin.Module{}, err
	}

	return plugin.Module{
		Name: name,
		Factories: []plugin.Factory{
			func() (plugin.Plugin, error) {
				return &Plugin{Base: plugin.NewBase(info), proto: proto}, nil
			},
		},
	}, nil
}

// readInfo runs the script in a throwaway state to read its plugin table.
func readInfo(proto *lua.FunctionProto) (plugin.Info, error) {
	L := newState()
	defer L.Close()
	registerHost(L, nil, slog.New(slog.DiscardHandler))

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return plugin.Info{}, fmt.Errorf("run script: %w", err)
	}

	tbl, ok := L.GetGlobal("plugin").(*lua.LTable)
	if !ok {
		return plugin.Info{}, fmt.Errorf("script does not define a plugin table")
	}
	field := func(k string) string {
		if s, ok := tbl.RawGetString(k).(lua.LString); ok {
			return string(s)
		}
		return ""
	}
	info := plugin.Info{
		ID:          field("id"),
		Name:        field("name"),
		Version:     field("version"),
		Description: field("description"),
		Author:      field("author"),
	}
	if info.ID == "" {
		return plugin.Info{}, fmt.Errorf("plugin.id must be a non-empty string")
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	return info, nil
}

// Plugin is a Lua-backed plugin.
type Plugin struct {
	plugin.Base
	proto *lua.FunctionProto

	mu sync.Mutex
	L  *lua.LState
}

func (p *Plugin) Initialize(ctx context.Context, host *plugin.Host) error {
	if err := p.Base.Initialize(ctx, host); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	L := newState()
	var data plugin.Store
	var config plugin.Metadata
	if host != nil {
		data = host.Data
		config = host.Config
	}
	registerHost(L, data, p.Logger())

	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return fmt.Errorf("run script: %w", err)
	}

	if fn := L.GetGlobal(fnInitialize); fn.Type() == lua.LTFunction {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, metadataToLua(L, config)); err != nil {
			L.Close()
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		if ret == lua.LFalse {
			L.Close()
			return fmt.Errorf("initialize returned false")
		}
	}

	p.L = L
	return nil
}

func (p *Plugin) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return req, fmt.Errorf("plugin %s is not initialized", p.Info().ID)
	}
	arg := requestToLua(p.L, req)
	tbl, called, err := p.call(ctx, fnBefore, arg)
	if err != nil || !called {
		return req, err
	}
	return requestFromLua(tbl)
}

func (p *Plugin) AfterResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return resp, fmt.Errorf("plugin %s is not initialized", p.Info().ID)
	}
	arg := responseToLua(p.L, resp)
	tbl, called, err := p.call(ctx, fnAfter, arg)
	if err != nil || !called {
		return resp, err
	}
	return responseFromLua(tbl)
}

func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return nil
	}
	defer func() {
		p.L.Close()
		p.L = nil
	}()

	fn := p.L.GetGlobal(fnShutdown)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()
	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
}

// call invokes global function name with arg. A nil return yields arg.
// called is false when the script does not define name.
func (p *Plugin) call(ctx context.Context, name string, arg *lua.LTable) (*lua.LTable, bool, error) {
	fn := p.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, false, nil
	}

	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
		return nil, true, err
	}
	ret := p.L.Get(-1)
	p.L.Pop(1)

	switch v := ret.(type) {
	case *lua.LTable:
		return v, true, nil
	case *lua.LNilType:
		return arg, true, nil
	default:
		return nil, true, fmt.Errorf("%s must return a table or nil, got %s", name, ret.Type())
	}
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// The base library can reach the filesystem.
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func registerHost(L *lua.LState, data plugin.Store, logger *slog.Logger) {
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		level := strings.ToLower(L.CheckString(1))
		msg := L.CheckString(2)
		switch level {
		case "debug":
			logger.Debug(msg)
		case "warn", "warning":
			logger.Warn(msg)
		case "error":
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
		return 0
	}))

	L.SetGlobal("store_get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if data == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok := data.Get(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, v))
		return 1
	}))

	L.SetGlobal("store_set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		v, err := fromLua(L.CheckAny(2))
		if err != nil {
			L.RaiseError("store_set %s: %s", key, err.Error())
			return 0
		}
		if data == nil {
			return 0
		}
		if !v.IsValid() {
			data.Delete(key)
			return 0
		}
		data.Set(key, v)
		return 0
	}))
}
