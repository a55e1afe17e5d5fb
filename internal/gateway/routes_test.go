package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/packetqueue"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	require.NotNil(t, f.OK)
	require.True(t, *f.OK, "unexpected error: %+v", f.Error)
	var out T
	require.NoError(t, json.Unmarshal(f.Payload, &out))
	return out
}

func requireError(t *testing.T, f Frame, code string) {
	t.Helper()
	require.NotNil(t, f.Error)
	assert.Equal(t, code, f.Error.Code)
}

func TestRPCPluginsList(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[struct {
		Plugins []plugin.Info `json:"plugins"`
	}](t, call(t, conn, "r1", "plugins.list", nil))

	require.Len(t, out.Plugins, 2)
	assert.Equal(t, "Demo", out.Plugins[0].Name)
	assert.Equal(t, packetqueue.Name, out.Plugins[1].Name)
	assert.Equal(t, plugin.StateStopped, out.Plugins[0].State)
	assert.False(t, out.Plugins[0].Enabled)
}

func TestRPCPluginsEnable(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	resp := call(t, conn, "r1", "plugins.enable", map[string]any{"name": "Demo", "enabled": true})
	out := decode[map[string]any](t, resp)
	assert.Equal(t, true, out["enabled"])

	state, ok := h.plugins.State("Demo")
	require.True(t, ok)
	assert.Equal(t, plugin.StateStarted, state)

	resp = call(t, conn, "r2", "plugins.enable", map[string]any{"name": "Demo", "enabled": false})
	decode[map[string]any](t, resp)
	state, _ = h.plugins.State("Demo")
	assert.Equal(t, plugin.StateStopped, state)
}

func TestRPCPluginsEnableErrors(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	requireError(t, call(t, conn, "r1", "plugins.enable", map[string]any{"name": "Demo"}), "invalid_params")
	requireError(t, call(t, conn, "r2", "plugins.enable", map[string]any{"enabled": true}), "invalid_params")
	requireError(t, call(t, conn, "r3", "plugins.enable", map[string]any{"name": "Ghost", "enabled": true}), "not_found")
	requireError(t, call(t, conn, "r4", "plugins.enable", "not an object"), "invalid_params")
}

func TestRPCPluginsEnableStartFailure(t *testing.T) {
	h := newHarness(t)
	broken := newDemoPlugin("Broken")
	broken.startErr = errors.New("no socket")
	require.NoError(t, h.plugins.Register(context.Background(), broken))
	conn := dial(t, h.ts)

	resp := call(t, conn, "r1", "plugins.enable", map[string]any{"name": "Broken", "enabled": true})
	requireError(t, resp, "failed")
	assert.Contains(t, resp.Error.Message, "no socket")
	assert.False(t, broken.Settings().Enabled())
}

func TestRPCSettingsGet(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[struct {
		Plugin   string                `json:"plugin"`
		Settings []settings.Descriptor `json:"settings"`
	}](t, call(t, conn, "r1", "settings.get", map[string]any{"plugin": "Demo"}))

	assert.Equal(t, "Demo", out.Plugin)
	require.Len(t, out.Settings, 2)
	assert.Equal(t, settings.EnableKey, out.Settings[0].Key)
	assert.Equal(t, "speed", out.Settings[1].Key)
	assert.Equal(t, settings.Range, out.Settings[1].Type)
	assert.Equal(t, 5.0, out.Settings[1].Value)

	requireError(t, call(t, conn, "r2", "settings.get", map[string]any{}), "invalid_params")
	requireError(t, call(t, conn, "r3", "settings.get", map[string]any{"plugin": "Ghost"}), "not_found")
}

func TestRPCSettingsSet(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	resp := call(t, conn, "r1", "settings.set", map[string]any{"plugin": "Demo", "key": "speed", "value": 7})
	decode[map[string]any](t, resp)
	p, _ := h.plugins.Get("Demo")
	assert.Equal(t, 7.0, p.Settings().Number("speed"))

	tests := []struct {
		name   string
		params map[string]any
		code   string
	}{
		{"missing key", map[string]any{"plugin": "Demo"}, "invalid_params"},
		{"unknown plugin", map[string]any{"plugin": "Ghost", "key": "speed", "value": 1}, "not_found"},
		{"unknown key", map[string]any{"plugin": "Demo", "key": "nope", "value": 1}, "not_found"},
		{"out of range", map[string]any{"plugin": "Demo", "key": "speed", "value": 99}, "invalid_value"},
		{"wrong type", map[string]any{"plugin": "Demo", "key": "speed", "value": "fast"}, "invalid_value"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, call(t, conn, fmt.Sprintf("e%d", i), "settings.set", tt.params), tt.code)
		})
	}
	assert.Equal(t, 7.0, p.Settings().Number("speed"))
}

func TestRPCSettingsSetEnableKey(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	resp := call(t, conn, "r1", "settings.set", map[string]any{"plugin": "Demo", "key": settings.EnableKey, "value": true})
	decode[map[string]any](t, resp)
	state, _ := h.plugins.State("Demo")
	assert.Equal(t, plugin.StateStarted, state)
}

type sessionResult struct {
	Session domain.SessionInfo `json:"session"`
	Active  bool               `json:"active"`
}

func TestRPCSessionGet(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[sessionResult](t, call(t, conn, "r1", "session.get", nil))
	assert.False(t, out.Active)

	h.engine.Socket.LoggedIn(context.Background(), "alice")
	out = decode[sessionResult](t, call(t, conn, "r2", "session.get", nil))
	assert.True(t, out.Active)
	assert.Equal(t, "alice", out.Session.Player)
	assert.NotEmpty(t, out.Session.ID)
}

func TestRPCHooksStats(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[struct {
		Subscribers map[string][]string `json:"subscribers"`
	}](t, call(t, conn, "r1", "hooks.stats", nil))

	assert.Contains(t, out.Subscribers[game.HookLoggedIn], packetqueue.Name)
	assert.NotContains(t, out.Subscribers, game.HookChatMessage)
}

func TestRPCPacketQueueStatus(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[packetqueue.Status](t, call(t, conn, "r1", "packetqueue.status", nil))
	assert.False(t, out.Active)
	assert.Equal(t, packetqueue.DefaultInterval, out.Interval)
	assert.Zero(t, out.QueueLength)
}

func TestRPCUISnapshot(t *testing.T) {
	h := newHarness(t)
	_, err := h.ui.Create("Demo", "label", "")
	require.NoError(t, err)
	conn := dial(t, h.ts)

	out := decode[struct {
		Elements []ui.Element `json:"elements"`
	}](t, call(t, conn, "r1", "ui.snapshot", nil))

	require.Len(t, out.Elements, 1)
	assert.Equal(t, "Demo", out.Elements[0].Owner)
	assert.Equal(t, "label", out.Elements[0].Kind)
}

func TestRPCHealthCountsPlugins(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.ts)

	out := decode[HealthResponse](t, call(t, conn, "r1", "health", nil))
	assert.Equal(t, 2, out.Plugins)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", plugin.ErrNotFound), "not_found"},
		{fmt.Errorf("x: %w", settings.ErrUnknownKey), "not_found"},
		{fmt.Errorf("x: %w", plugin.ErrTransitionInFlight), "busy"},
		{fmt.Errorf("x: %w", settings.ErrRejected), "invalid_value"},
		{fmt.Errorf("x: %w", settings.ErrTypeMismatch), "invalid_value"},
		{errors.New("boom"), "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}
