package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/soyeahso/loadstone/internal/domain"
)

// installHost registers the functions scripts may call. They run with s.mu
// held by the caller of the Lua function, so they must not call back into
// the script.
func (s *Script) installHost() {
	L := s.L
	L.SetGlobal("print", L.NewFunction(s.luaPrint))
	L.SetGlobal("log_info", L.NewFunction(func(L *lua.LState) int {
		s.log().Info().Msg(L.CheckString(1))
		return 0
	}))
	L.SetGlobal("log_warn", L.NewFunction(func(L *lua.LState) int {
		s.log().Warn().Msg(L.CheckString(1))
		return 0
	}))
	L.SetGlobal("log_error", L.NewFunction(func(L *lua.LState) int {
		s.log().Error().Msg(L.CheckString(1))
		return 0
	}))
	L.SetGlobal("setting", L.NewFunction(s.luaSetting))
	L.SetGlobal("skill_name", L.NewFunction(func(L *lua.LState) int {
		return s.pushName(L, s.lookups().SkillName)
	}))
	L.SetGlobal("item_name", L.NewFunction(func(L *lua.LState) int {
		return s.pushName(L, s.lookups().ItemName)
	}))
	L.SetGlobal("in_session", L.NewFunction(func(L *lua.LState) int {
		g := s.game()
		L.Push(lua.LBool(g != nil && g.Socket.InSession()))
		return 1
	}))
	L.SetGlobal("emit", L.NewFunction(s.luaEmit))
}

func (s *Script) luaPrint(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	s.log().Info().Msg(strings.Join(parts, "\t"))
	return 0
}

// setting(key) returns the current value or nil.
func (s *Script) luaSetting(L *lua.LState) int {
	key := L.CheckString(1)
	if s.Base == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, s.Settings().Value(key)))
	return 1
}

func (s *Script) pushName(L *lua.LState, resolve func(int) (string, bool)) int {
	id := L.CheckInt(1)
	if name, ok := resolve(id); ok {
		L.Push(lua.LString(name))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// emit(event, action[, data]) queues a packet; it is sent through the
// socket's interceptor chain once the current callback returns.
func (s *Script) luaEmit(L *lua.LState) int {
	event := L.CheckString(1)
	action := L.CheckInt(2)
	var data any
	if L.GetTop() >= 3 {
		data = fromLua(L.Get(3))
	}
	p, err := domain.NewPacket(event, action, data)
	if err != nil {
		L.RaiseError("emit: %s", err.Error())
		return 0
	}
	s.outbox = append(s.outbox, p)
	return 0
}
