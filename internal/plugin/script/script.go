// Package script loads plugins written in Lua. A script declares a global
// `plugin` table and defines functions named after the hooks it wants:
//
//	plugin = {
//	  name = "Greeter",
//	  author = "someone",
//	  enabled = true,
//	  settings = {
//	    { key = "greeting", text = "Greeting", type = "text", value = "hi" },
//	  },
//	}
//
//	function SocketManager_loggedIn(session)
//	  log_info(setting("greeting") .. ", " .. session.player)
//	end
//
// init, start, stop and on_setting are lifecycle callbacks. Scripts run in
// a sandbox with only the base, table, string and math libraries.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
)

// DefaultTimeout bounds a single call into Lua.
const DefaultTimeout = 250 * time.Millisecond

var (
	// ErrNoManifest is returned when a script does not define a plugin table.
	ErrNoManifest = errors.New("script does not define a plugin table")

	// ErrClosed is returned by calls on a closed script.
	ErrClosed = errors.New("script closed")
)

// Options configures Load.
type Options struct {
	Timeout time.Duration
}

// Script is a Lua-backed plugin.
type Script struct {
	*plugin.Base

	path    string
	timeout time.Duration

	mu     sync.Mutex
	L      *lua.LState
	outbox []domain.Packet
	hooked []string
}

// Load runs the file at path and builds a plugin from its manifest.
func Load(path string, opts Options) (*Script, error) {
	s := &Script{path: path, timeout: opts.Timeout}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.L = newState()
	s.installHost()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.L.SetContext(ctx)
	err := s.L.DoFile(path)
	s.L.RemoveContext()
	cancel()
	if err != nil {
		s.L.Close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if err := s.readManifest(); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	for _, hook := range game.AllHooks {
		if s.L.GetGlobal(hook).Type() == lua.LTFunction {
			s.hooked = append(s.hooked, hook)
		}
	}
	return s, nil
}

// newState creates a Lua state with the safe standard libraries only.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (s *Script) readManifest() error {
	tbl, ok := s.L.GetGlobal("plugin").(*lua.LTable)
	if !ok {
		return ErrNoManifest
	}
	name := strings.TrimSpace(lua.LVAsString(tbl.RawGetString("name")))
	if name == "" {
		return fmt.Errorf("plugin.name is required")
	}
	author := lua.LVAsString(tbl.RawGetString("author"))
	if author == "" {
		author = "unknown"
	}
	s.Base = plugin.NewBase(name, author)

	if lua.LVAsBool(tbl.RawGetString("enabled")) {
		if err := s.Settings().Load(settings.EnableKey, true); err != nil {
			return err
		}
	}

	decls, ok := tbl.RawGetString("settings").(*lua.LTable)
	if !ok {
		return nil
	}
	for i := 1; i <= decls.Len(); i++ {
		decl, ok := decls.RawGetInt(i).(*lua.LTable)
		if !ok {
			return fmt.Errorf("plugin.settings[%d] is not a table", i)
		}
		st, err := s.declare(decl)
		if err != nil {
			return fmt.Errorf("plugin.settings[%d]: %w", i, err)
		}
		if err := s.Settings().Add(st); err != nil {
			return err
		}
	}
	return nil
}

// declare turns one Lua setting declaration into a settings.Setting.
func (s *Script) declare(decl *lua.LTable) (settings.Setting, error) {
	st := settings.Setting{
		Key:   lua.LVAsString(decl.RawGetString("key")),
		Text:  lua.LVAsString(decl.RawGetString("text")),
		Kind:  settings.Kind(lua.LVAsString(decl.RawGetString("type"))),
		Value: fromLua(decl.RawGetString("value")),
		Min:   float64(lua.LVAsNumber(decl.RawGetString("min"))),
		Max:   float64(lua.LVAsNumber(decl.RawGetString("max"))),
		Step:  float64(lua.LVAsNumber(decl.RawGetString("step"))),
	}
	if st.Key == "" {
		return st, fmt.Errorf("key is required")
	}
	if st.Text == "" {
		st.Text = st.Key
	}
	switch st.Kind {
	case settings.Checkbox, settings.Range, settings.Text, settings.Color:
	default:
		return st, fmt.Errorf("%s: unknown type %q", st.Key, st.Kind)
	}

	key := st.Key
	if fn, ok := decl.RawGetString("validate").(*lua.LFunction); ok {
		st.Validate = func(candidate any) bool {
			ok, err := s.predicate(fn, candidate)
			if err != nil {
				s.Log().Warn().Err(err).Str("key", key).Msg("setting validator failed")
				return false
			}
			return ok
		}
	}
	st.OnChange = func() {
		if err := s.call(context.Background(), "on_setting", key, s.Settings().Value(key)); err != nil {
			s.Log().Warn().Err(err).Str("key", key).Msg("on_setting failed")
		}
	}
	return st, nil
}

// Path returns the file the script was loaded from.
func (s *Script) Path() string { return s.path }

// Hooks exposes each hook-named global function.
func (s *Script) Hooks() map[string]hooks.Handler {
	out := make(map[string]hooks.Handler, len(s.hooked))
	for _, hook := range s.hooked {
		out[hook] = func(ctx context.Context, c hooks.Call) error {
			return s.call(ctx, hook, c.Args...)
		}
	}
	return out
}

// HookNames lists the hooks the script defines, in dispatch order.
func (s *Script) HookNames() []string {
	return append([]string(nil), s.hooked...)
}

func (s *Script) Init(ctx context.Context, api plugin.API) error {
	return s.call(ctx, "init")
}

func (s *Script) Start(ctx context.Context) error {
	return s.call(ctx, "start")
}

func (s *Script) Stop(ctx context.Context) error {
	return s.call(ctx, "stop")
}

// Close releases the Lua state. The script cannot be started again.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
}

// call runs the global function fn if the script defines it. Packets the
// function emitted are sent after the state is unlocked, since sending can
// re-enter the script through SocketManager_emit.
func (s *Script) call(ctx context.Context, fn string, args ...any) error {
	s.mu.Lock()
	if s.L == nil {
		s.mu.Unlock()
		return ErrClosed
	}
	f, ok := s.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(s.L, a)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	s.L.SetContext(cctx)
	err := s.L.CallByParam(lua.P{Fn: f, NRet: 0, Protect: true}, largs...)
	s.L.RemoveContext()
	cancel()

	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	s.flush(ctx, out)
	if err != nil {
		return fmt.Errorf("lua %s: %w", fn, err)
	}
	return nil
}

// predicate calls fn(candidate) and reports whether it returned a truthy
// value.
func (s *Script) predicate(fn *lua.LFunction, candidate any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L == nil {
		return false, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, toLua(s.L, candidate)); err != nil {
		return false, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func (s *Script) flush(ctx context.Context, out []domain.Packet) {
	if len(out) == 0 {
		return
	}
	g := s.game()
	if g == nil || g.Socket == nil {
		s.Log().Warn().Int("packets", len(out)).Msg("no socket, dropping emitted packets")
		return
	}
	for _, p := range out {
		if err := g.Socket.Emit(ctx, p); err != nil {
			s.Log().Warn().Err(err).Stringer("packet", p).Msg("emit failed")
		}
	}
}

var quiet = logging.New(io.Discard, "silent")

// The helpers below are safe while the manifest is still being read and
// Base is unset.

func (s *Script) log() *logging.Logger {
	if s.Base == nil {
		return quiet
	}
	return s.Log()
}

func (s *Script) game() *game.Engine {
	if s.Base == nil {
		return nil
	}
	return s.Game()
}

func (s *Script) lookups() *game.Lookups {
	if s.Base == nil {
		return nil
	}
	return s.Lookups()
}
