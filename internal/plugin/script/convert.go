package script

import (
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a hook argument into a Lua value. Durations become
// milliseconds; structs travel through their JSON form so Lua sees the same
// field names as the gateway.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case time.Duration:
		return lua.LNumber(float64(val) / float64(time.Millisecond))
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case lua.LValue:
		return val
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return lua.LNil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return lua.LNil
	}
	return plainToLua(L, generic)
}

// plainToLua converts the output of json.Unmarshal into Lua.
func plainToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, plainToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, plainToLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into plain Go: bool, float64, string,
// []any for sequences and map[string]any for other tables. Functions and
// cyclic references become nil.
func fromLua(v lua.LValue) any {
	return fromLuaVisited(v, make(map[*lua.LTable]bool))
}

func fromLuaVisited(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if seen[val] {
			return nil
		}
		seen[val] = true
		defer delete(seen, val)
		return tableFromLua(val, seen)
	default:
		return nil
	}
}

func tableFromLua(t *lua.LTable, seen map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = fromLuaVisited(t.RawGetInt(i), seen)
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = fromLuaVisited(v, seen)
	})
	return out
}
