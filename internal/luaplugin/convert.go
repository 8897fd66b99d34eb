package luaplugin

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// toLua converts a metadata value into a Lua value.
func toLua(L *lua.LState, v plugin.Value) lua.LValue {
	switch v.Kind() {
	case plugin.KindString:
		s, _ := v.Str()
		return lua.LString(s)
	case plugin.KindNumber:
		n, _ := v.Num()
		return lua.LNumber(n)
	case plugin.KindBool:
		b, _ := v.Boolean()
		return lua.LBool(b)
	case plugin.KindMap:
		m, _ := v.Fields()
		return metadataToLua(L, m)
	default:
		return lua.LNil
	}
}

func metadataToLua(L *lua.LState, m plugin.Metadata) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, toLua(L, v))
	}
	return tbl
}

// fromLua converts a Lua value into a metadata value. Nil yields an invalid
// Value; functions, userdata and tables with non-string keys are rejected.
func fromLua(lv lua.LValue) (plugin.Value, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return plugin.Value{}, nil
	case lua.LString:
		return plugin.String(string(v)), nil
	case lua.LNumber:
		return plugin.Number(float64(v)), nil
	case lua.LBool:
		return plugin.Bool(bool(v)), nil
	case *lua.LTable:
		m, err := metadataFromLua(v)
		if err != nil {
			return plugin.Value{}, err
		}
		return plugin.Map(m), nil
	default:
		return plugin.Value{}, fmt.Errorf("unsupported lua type %s", lv.Type())
	}
}

func metadataFromLua(tbl *lua.LTable) (plugin.Metadata, error) {
	out := plugin.Metadata{}
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("metadata keys must be strings, got %s", k.Type())
			return
		}
		val, verr := fromLua(v)
		if verr != nil {
			err = fmt.Errorf("metadata %q: %w", string(key), verr)
			return
		}
		if val.IsValid() {
			out[string(key)] = val
		}
	})
	return out, err
}

func requestToLua(L *lua.LState, req plugin.RequestContext) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("prompt", lua.LString(req.Prompt))
	tbl.RawSetString("metadata", metadataToLua(L, req.Metadata))
	tbl.RawSetString("cancel", lua.LBool(req.Cancel))
	tbl.RawSetString("cancel_reason", lua.LString(req.CancelReason))
	return tbl
}

func requestFromLua(tbl *lua.LTable) (plugin.RequestContext, error) {
	req := plugin.RequestContext{
		Prompt:       lua.LVAsString(tbl.RawGetString("prompt")),
		Cancel:       lua.LVAsBool(tbl.RawGetString("cancel")),
		CancelReason: lua.LVAsString(tbl.RawGetString("cancel_reason")),
	}
	md, err := metadataField(tbl)
	if err != nil {
		return req, err
	}
	req.Metadata = md
	return req, nil
}

func responseToLua(L *lua.LState, resp plugin.ResponseContext) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("response", lua.LString(resp.Response))
	tbl.RawSetString("metadata", metadataToLua(L, resp.Metadata))
	tbl.RawSetString("duration", lua.LNumber(resp.Duration.Seconds()))
	tbl.RawSetString("success", lua.LBool(resp.Success))
	tbl.RawSetString("error", lua.LString(resp.Error))
	return tbl
}

func responseFromLua(tbl *lua.LTable) (plugin.ResponseContext, error) {
	resp := plugin.ResponseContext{
		Response: lua.LVAsString(tbl.RawGetString("response")),
		Success:  lua.LVAsBool(tbl.RawGetString("success")),
		Error:    lua.LVAsString(tbl.RawGetString("error")),
	}
	if n, ok := tbl.RawGetString("duration").(lua.LNumber); ok {
		resp.Duration = time.Duration(float64(n) * float64(time.Second))
	}
	md, err := metadataField(tbl)
	if err != nil {
		return resp, err
	}
	resp.Metadata = md
	return resp, nil
}

func metadataField(tbl *lua.LTable) (plugin.Metadata, error) {
	switch md := tbl.RawGetString("metadata").(type) {
	case *lua.LTable:
		return metadataFromLua(md)
	case *lua.LNilType:
		return plugin.Metadata{}, nil
	default:
		return nil, fmt.Errorf("metadata must be a table, got %s", md.Type())
	}
}
