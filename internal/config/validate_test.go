package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()

	cfg.Gateway.Port = -1
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "gateway.port")

	cfg.Gateway.Port = 70000
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
}

func TestValidate_ValidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 0
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 65535
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Binds(t *testing.T) {
	for _, bind := range []string{"lan", "loopback", ""} {
		cfg := Defaults()
		cfg.Gateway.Bind = bind
		assert.Empty(t, Validate(&cfg), "bind %q should be valid", bind)
	}

	cfg := Defaults()
	cfg.Gateway.Bind = "tailnet"
	assert.Equal(t, []string{"gateway.bind"}, issuePaths(Validate(&cfg)))

	cfg = Defaults()
	cfg.Gateway.Bind = "custom"
	assert.Equal(t, []string{"gateway.customBindHost"}, issuePaths(Validate(&cfg)))

	cfg.Gateway.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_AuthModes(t *testing.T) {
	for _, mode := range []string{"token", "password", "none", ""} {
		cfg := Defaults()
		cfg.Gateway.Auth.Mode = mode
		assert.Empty(t, Validate(&cfg), "auth mode %q should be valid", mode)
	}

	cfg := Defaults()
	cfg.Gateway.Auth.Mode = "oauth"
	assert.Equal(t, []string{"gateway.auth.mode"}, issuePaths(Validate(&cfg)))
}

func TestValidate_NoAuthOffLoopback(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "lan"
	cfg.Gateway.Auth.Mode = "none"
	assert.Equal(t, []string{"gateway.auth.mode"}, issuePaths(Validate(&cfg)))
}

func TestValidate_LogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace", ""} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "log level %q should be valid", level)
	}

	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	assert.Equal(t, []string{"logging.level"}, issuePaths(Validate(&cfg)))
}

func TestValidate_ConsoleStyles(t *testing.T) {
	for _, style := range []string{"pretty", "json", ""} {
		cfg := Defaults()
		cfg.Logging.ConsoleStyle = style
		assert.Empty(t, Validate(&cfg), "console style %q should be valid", style)
	}

	cfg := Defaults()
	cfg.Logging.ConsoleStyle = "fancy"
	assert.Equal(t, []string{"logging.consoleStyle"}, issuePaths(Validate(&cfg)))
}

func TestValidate_GameServerURL(t *testing.T) {
	for _, u := range []string{"ws://localhost:9000", "wss://play.example.com/socket", ""} {
		cfg := Defaults()
		cfg.Game.ServerURL = u
		assert.Empty(t, Validate(&cfg), "server url %q should be valid", u)
	}
	for _, u := range []string{"http://play.example.com", "wss://", "not a url"} {
		cfg := Defaults()
		cfg.Game.ServerURL = u
		assert.Equal(t, []string{"game.serverUrl"}, issuePaths(Validate(&cfg)), "server url %q", u)
	}
}

func TestValidate_GameFPS(t *testing.T) {
	cfg := Defaults()
	cfg.Game.FPS = 500
	assert.Equal(t, []string{"game.fps"}, issuePaths(Validate(&cfg)))
}

func TestValidate_PacketInterval(t *testing.T) {
	tests := []struct {
		ms    int
		valid bool
	}{
		{100, true},
		{600, true},
		{1000, true},
		{50, false},
		{1050, false},
		{625, false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.PacketQueue.IntervalMs = tt.ms
		issues := Validate(&cfg)
		if tt.valid {
			assert.Empty(t, issues, "interval %d", tt.ms)
		} else {
			assert.Equal(t, []string{"packetQueue.intervalMs"}, issuePaths(issues), "interval %d", tt.ms)
		}
	}
}

func TestValidate_RelayMissingFields(t *testing.T) {
	cfg := Defaults()
	cfg.Relay = &RelayConfig{}
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "relay.server")
	assert.Contains(t, paths, "relay.nick")
}

func TestValidate_RelayInvalid(t *testing.T) {
	cfg := Defaults()
	cfg.Relay = &RelayConfig{
		Server:        "irc.example.com",
		Nick:          "bot",
		Port:          70000,
		Channel:       "guild",
		SASL:          true,
		MinIntervalMs: -5,
	}
	paths := issuePaths(Validate(&cfg))
	assert.ElementsMatch(t, []string{"relay.port", "relay.channel", "relay.sasl", "relay.minIntervalMs"}, paths)
}

func TestValidate_RelayValid(t *testing.T) {
	cfg := Defaults()
	cfg.Relay = &RelayConfig{
		Server:   "irc.example.com",
		Nick:     "bot",
		Port:     6697,
		Channel:  "#guild",
		SASL:     true,
		Password: "secret",
	}
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Gateway.Bind = "invalid"
	cfg.Logging.Level = "verbose"

	issues := Validate(&cfg)
	assert.GreaterOrEqual(t, len(issues), 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{
		Path:    "gateway.port",
		Message: "port must be 0-65535, got -1",
	}
	assert.Equal(t, "gateway.port: port must be 0-65535, got -1", issue.String())
}
