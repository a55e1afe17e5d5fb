package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultGatewayPort, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.True(t, cfg.Gateway.IsEnabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.ConsoleStyle)
	assert.Equal(t, 30, cfg.Game.FPS)
	assert.Equal(t, 600, cfg.PacketQueue.IntervalMs)
	assert.Equal(t, []int{10, 11}, cfg.PacketQueue.Coalesce)
	assert.Nil(t, cfg.Relay)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayPort, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
game:
  serverUrl: wss://play.example.com/socket
  fps: 60
packetQueue:
  intervalMs: 450
  coalesce: [10]
relay:
  server: irc.libera.chat
  nick: stonebot
  channel: "#guild"
  useTLS: true
plugins:
  dirs:
    - /opt/loadstone/plugins
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "wss://play.example.com/socket", cfg.Game.ServerURL)
	assert.Equal(t, 60, cfg.Game.FPS)
	assert.Equal(t, 450, cfg.PacketQueue.IntervalMs)
	assert.Equal(t, []int{10}, cfg.PacketQueue.Coalesce)
	assert.Equal(t, []string{"/opt/loadstone/plugins"}, cfg.Plugins.Dirs)

	require.NotNil(t, cfg.Relay)
	assert.Equal(t, "irc.libera.chat", cfg.Relay.Server)
	assert.Equal(t, 6697, cfg.Relay.Port, "TLS relay defaults to 6697")
	assert.Equal(t, "stonebot", cfg.Relay.Nick)
	assert.Equal(t, "#guild", cfg.Relay.Channel)
	assert.Equal(t, DefaultRelayIntervalMs, cfg.Relay.MinIntervalMs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOADSTONE_GATEWAY_PORT", "12345")
	t.Setenv("LOADSTONE_LOG_LEVEL", "TRACE")
	t.Setenv("LOADSTONE_PACKET_INTERVAL_MS", "300")
	t.Setenv("LOADSTONE_GAME_SERVER_URL", "ws://localhost:9000")
	t.Setenv("LOADSTONE_STORE_PATH", ":memory:")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, 300, cfg.PacketQueue.IntervalMs)
	assert.Equal(t, "ws://localhost:9000", cfg.Game.ServerURL)
	assert.Equal(t, ":memory:", cfg.Store.Path)
}

func TestLoadEnvOverrideInvalidNumber(t *testing.T) {
	t.Setenv("LOADSTONE_GATEWAY_PORT", "not-a-port")

	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_RELAY_PASS", "s3cret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
gateway:
  auth:
    token: ${TEST_UNSET_TOKEN_VAR}
relay:
  server: irc.example.org
  nick: bot
  password: ${TEST_RELAY_PASS}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Relay.Password)
	assert.Equal(t, "${TEST_UNSET_TOKEN_VAR}", cfg.Gateway.Auth.Token, "unset variables are left alone")
	assert.Equal(t, 6667, cfg.Relay.Port)
}

func TestStorePath(t *testing.T) {
	p := Paths{DB: "/home/x/.loadstone/data/loadstone.db"}

	cfg := Defaults()
	assert.Equal(t, p.DB, cfg.StorePath(p))

	cfg.Store.Path = ":memory:"
	assert.Equal(t, ":memory:", cfg.StorePath(p))
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"relay.channel", []string{"relay", "channel"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{"__proto__.x", nil, true},
		{"x.constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"packetQueue": map[string]any{
			"intervalMs": 600,
		},
	}

	val, ok := GetValueAtPath(root, []string{"packetQueue", "intervalMs"})
	assert.True(t, ok)
	assert.Equal(t, 600, val)

	_, ok = GetValueAtPath(root, []string{"packetQueue", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"packetQueue", "intervalMs"}, 350)
	val, ok = GetValueAtPath(root, []string{"packetQueue", "intervalMs"})
	assert.True(t, ok)
	assert.Equal(t, 350, val)

	SetValueAtPath(root, []string{"relay", "server"}, "irc.libera.chat")
	val, ok = GetValueAtPath(root, []string{"relay", "server"})
	assert.True(t, ok)
	assert.Equal(t, "irc.libera.chat", val)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Gateway.Port)
}

func TestLoadRawMissingFile(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}
