package script

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeter = `
plugin = {
  name = "Greeter",
  author = "tester",
  enabled = true,
  settings = {
    { key = "greeting", text = "Greeting", type = "text", value = "hi",
      validate = function(v) return #v > 0 and #v <= 10 end },
    { key = "volume", type = "range", value = 5, min = 0, max = 10, step = 1 },
  },
}

seen = {}
changed = nil

function start()
  table.insert(seen, "start")
end

function stop()
  table.insert(seen, "stop")
end

function on_setting(key, value)
  changed = key .. "=" .. tostring(value)
end

function SocketManager_loggedIn(session)
  table.insert(seen, "login:" .. session.player)
end

function ChatManager_addChatMessage(msg)
  table.insert(seen, "chat:" .. msg.from .. ":" .. msg.text)
  if msg.text == "ping" then
    emit("action", 42, { reply = setting("greeting"), n = 1 })
  end
end

function GameLoop_update(dt)
  frame_ms = dt
end
`

type wire struct {
	mu   sync.Mutex
	sent []domain.Packet
}

func (w *wire) Send(_ context.Context, p domain.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, p)
	return nil
}

func (w *wire) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (w *wire) Close() error { return nil }

func (w *wire) Sent() []domain.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Packet(nil), w.sent...)
}

type fixture struct {
	reg    *hooks.Registry
	engine *game.Engine
	mgr    *plugin.Manager
	wire   *wire
}

func newFixture() *fixture {
	log := logging.New(nil, "silent")
	f := &fixture{wire: &wire{}}
	f.reg = hooks.NewRegistry(log)
	f.engine = game.New(f.reg, log, game.Options{
		Lookups: &game.Lookups{Skills: map[int]string{3: "Fishing"}},
	})
	f.engine.Socket.SetTransport(f.wire)
	f.mgr = plugin.NewManager(plugin.Deps{Hooks: f.reg, Game: f.engine, UI: ui.NewManager(log), Log: log})
	return f
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func loadString(t *testing.T, src string) *Script {
	t.Helper()
	s, err := Load(writeScript(t, t.TempDir(), "plugin.lua", src), Options{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// global reads a Lua global as plain Go.
func global(s *Script, name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromLua(s.L.GetGlobal(name))
}

func TestLoad_Manifest(t *testing.T) {
	s := loadString(t, greeter)

	assert.Equal(t, "Greeter", s.Name())
	assert.Equal(t, "tester", s.Author())
	assert.True(t, s.Settings().Enabled())
	assert.Equal(t, []string{settings.EnableKey, "greeting", "volume"}, s.Settings().Keys())
	assert.Equal(t, "hi", s.Settings().String("greeting"))
	assert.Equal(t, 5.0, s.Settings().Number("volume"))

	vol, ok := s.Settings().Get("volume")
	require.True(t, ok)
	assert.Equal(t, settings.Range, vol.Kind)
	assert.Equal(t, 10.0, vol.Max)

	assert.Equal(t, []string{game.HookGameLoopUpdate, game.HookLoggedIn, game.HookChatMessage}, s.HookNames())
	assert.Len(t, s.Hooks(), 3)
}

func TestLoad_Defaults(t *testing.T) {
	s := loadString(t, `plugin = { name = "Bare" }`)
	assert.Equal(t, "unknown", s.Author())
	assert.False(t, s.Settings().Enabled())
	assert.Empty(t, s.HookNames())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no manifest", `x = 1`, "does not define a plugin table"},
		{"no name", `plugin = { author = "a" }`, "plugin.name is required"},
		{"bad setting type", `plugin = { name = "p", settings = { { key = "k", type = "slider", value = 1 } } }`, "unknown type"},
		{"setting without key", `plugin = { name = "p", settings = { { type = "text", value = "" } } }`, "key is required"},
		{"mismatched value", `plugin = { name = "p", settings = { { key = "k", type = "checkbox", value = "yes" } } }`, "setting type mismatch"},
		{"enable redeclared", `plugin = { name = "p", settings = { { key = "enable", type = "checkbox", value = true } } }`, "already defined"},
		{"syntax error", `plugin = {`, "loading"},
		{"runtime error", `error("boom")`, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeScript(t, t.TempDir(), "p.lua", tt.src), Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Sandbox(t *testing.T) {
	for _, src := range []string{
		`os.exit(1)`,
		`io.open("/etc/passwd")`,
		`require("os")`,
		`dofile("/tmp/x.lua")`,
		`load("return 1")()`,
	} {
		_, err := Load(writeScript(t, t.TempDir(), "p.lua", "plugin = { name = 'p' }\n"+src), Options{})
		assert.Error(t, err, src)
	}

	s := loadString(t, `
plugin = { name = "p" }
ok = string.upper("a") == "A" and math.floor(1.5) == 1 and #table.concat({"x", "y"}) == 2
`)
	assert.Equal(t, true, global(s, "ok"))
}

func TestLoad_TopLevelTimeout(t *testing.T) {
	_, err := Load(writeScript(t, t.TempDir(), "p.lua", `while true do end`), Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
}

func TestScript_Lifecycle(t *testing.T) {
	f := newFixture()
	s := loadString(t, greeter)
	require.NoError(t, f.mgr.Register(context.Background(), s))
	assert.Equal(t, []string{"Greeter"}, f.reg.Subscribers(game.HookLoggedIn))

	f.engine.Socket.LoggedIn(context.Background(), "alice")
	state, _ := f.mgr.State("Greeter")
	assert.Equal(t, plugin.StateStarted, state)

	f.engine.Chat.AddMessage(context.Background(), domain.ChatMessage{From: "bob", Text: "hello"})
	f.engine.Loop.Step(context.Background(), 16*time.Millisecond)

	require.NoError(t, f.mgr.SetEnabled(context.Background(), "Greeter", false))

	assert.Equal(t, []any{"start", "login:alice", "chat:bob:hello", "stop"}, global(s, "seen"))
	assert.Equal(t, 16.0, global(s, "frame_ms"))
}

func TestScript_EmitGoesThroughSocket(t *testing.T) {
	f := newFixture()
	s := loadString(t, greeter)
	require.NoError(t, f.mgr.Register(context.Background(), s))
	f.engine.Socket.LoggedIn(context.Background(), "alice")

	f.engine.Chat.AddMessage(context.Background(), domain.ChatMessage{From: "bob", Text: "ping"})

	sent := f.wire.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "action", sent[0].Event)
	assert.Equal(t, 42, sent[0].Action)
	assert.JSONEq(t, `{"reply":"hi","n":1}`, string(sent[0].Data))
}

func TestScript_EmitObservedWithoutDeadlock(t *testing.T) {
	f := newFixture()
	s := loadString(t, `
plugin = { name = "Echo", enabled = true }
count = 0
function ChatManager_addChatMessage(msg)
  emit("action", 7)
end
function SocketManager_emit(p)
  count = count + 1
  last_action = p.action
end
`)
	require.NoError(t, f.mgr.Register(context.Background(), s))
	f.engine.Socket.LoggedIn(context.Background(), "alice")

	done := make(chan struct{})
	go func() {
		f.engine.Chat.AddMessage(context.Background(), domain.ChatMessage{From: "bob", Text: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit from a hook deadlocked")
	}
	assert.Equal(t, 1.0, global(s, "count"))
	assert.Equal(t, 7.0, global(s, "last_action"))
}

func TestScript_HookErrorIsolated(t *testing.T) {
	f := newFixture()
	bad := loadString(t, `
plugin = { name = "Bad", enabled = true }
function ChatManager_addChatMessage(msg) error("nope") end
`)
	good := loadString(t, `
plugin = { name = "Good", enabled = true }
got = 0
function ChatManager_addChatMessage(msg) got = got + 1 end
`)
	require.NoError(t, f.mgr.Register(context.Background(), bad))
	require.NoError(t, f.mgr.Register(context.Background(), good))
	f.engine.Socket.LoggedIn(context.Background(), "alice")

	f.engine.Chat.AddMessage(context.Background(), domain.ChatMessage{From: "bob", Text: "x"})

	assert.Equal(t, 1.0, global(good, "got"))
	assert.Equal(t, int64(1), f.reg.Stats().Failures)
}

func TestScript_HookTimeout(t *testing.T) {
	f := newFixture()
	s, err := Load(writeScript(t, t.TempDir(), "slow.lua", `
plugin = { name = "Slow", enabled = true }
function ChatManager_addChatMessage(msg) while true do end end
`), Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, f.mgr.Register(context.Background(), s))
	f.engine.Socket.LoggedIn(context.Background(), "alice")

	f.engine.Chat.AddMessage(context.Background(), domain.ChatMessage{From: "bob", Text: "x"})
	assert.Equal(t, int64(1), f.reg.Stats().Failures)
}

func TestScript_StartErrorDisables(t *testing.T) {
	f := newFixture()
	s := loadString(t, `
plugin = { name = "Broken" }
function start() error("cannot start") end
`)
	require.NoError(t, f.mgr.Register(context.Background(), s))

	err := f.mgr.SetEnabled(context.Background(), "Broken", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start")
	assert.False(t, s.Settings().Enabled())
}

func TestScript_SettingsCallbacks(t *testing.T) {
	f := newFixture()
	s := loadString(t, greeter)
	require.NoError(t, f.mgr.Register(context.Background(), s))

	require.NoError(t, f.mgr.SetSetting(context.Background(), "Greeter", "greeting", "yo"))
	assert.Equal(t, "greeting=yo", global(s, "changed"))

	err := f.mgr.SetSetting(context.Background(), "Greeter", "greeting", "far too long a greeting")
	assert.ErrorIs(t, err, settings.ErrRejected)
	assert.Equal(t, "yo", s.Settings().String("greeting"))

	require.NoError(t, f.mgr.SetSetting(context.Background(), "Greeter", "volume", 7))
	assert.Equal(t, "volume=7", global(s, "changed"))
}

func TestScript_HostFunctions(t *testing.T) {
	f := newFixture()
	s := loadString(t, `
plugin = { name = "Host", enabled = true,
  settings = { { key = "flag", type = "checkbox", value = true } } }
function start()
  skill = skill_name(3)
  missing = item_name(99)
  flag = setting("flag")
  unknown = setting("nope")
  before = in_session()
  print("started", 1)
end
`)
	require.NoError(t, f.mgr.Register(context.Background(), s))
	f.engine.Socket.LoggedIn(context.Background(), "alice")

	assert.Equal(t, "Fishing", global(s, "skill"))
	assert.Nil(t, global(s, "missing"))
	assert.Equal(t, true, global(s, "flag"))
	assert.Nil(t, global(s, "unknown"))
	assert.Equal(t, true, global(s, "before"))
}

func TestScript_Closed(t *testing.T) {
	s := loadString(t, `plugin = { name = "p" }`)
	s.Close()
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	s.Close()
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.lua", `plugin = { name = "B" }`)
	writeScript(t, dir, "a.lua", `plugin = { name = "A" }`)
	writeScript(t, dir, "broken.lua", `plugin = `)
	writeScript(t, dir, "notes.txt", `not a script`)

	scripts, err := LoadDir([]string{dir, filepath.Join(dir, "missing")}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.lua")

	var names []string
	for _, s := range scripts {
		names = append(names, s.Name())
		s.Close()
	}
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestConvert(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := domain.SessionInfo{ID: "s1", Player: "alice", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	tbl, ok := toLua(L, info).(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, "alice", lua.LVAsString(tbl.RawGetString("player")))
	assert.Equal(t, lua.LNil, tbl.RawGetString("endedAt"))

	assert.Equal(t, lua.LNumber(1.5), toLua(L, 1500*time.Microsecond))
	assert.Equal(t, lua.LNil, toLua(L, nil))

	list := L.NewTable()
	list.Append(lua.LString("x"))
	list.Append(lua.LNumber(2))
	assert.Equal(t, []any{"x", 2.0}, fromLua(list))

	m := L.NewTable()
	m.RawSetString("k", lua.LTrue)
	m.RawSetString("self", m)
	assert.Equal(t, map[string]any{"k": true, "self": nil}, fromLua(m))
}
