package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Game validation
	if cfg.Game.FPS < 0 || cfg.Game.FPS > 240 {
		issues = append(issues, ValidationIssue{
			Path:    "game.fps",
			Message: fmt.Sprintf("must be 1-240, got %d", cfg.Game.FPS),
		})
	}
	if cfg.Game.ServerURL != "" {
		u, err := url.Parse(cfg.Game.ServerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "game.serverUrl",
				Message: fmt.Sprintf("must be a ws:// or wss:// URL, got %q", cfg.Game.ServerURL),
			})
		}
	}

	// Packet queue validation
	if ms := cfg.PacketQueue.IntervalMs; ms != 0 && (ms < 100 || ms > 1000 || ms%50 != 0) {
		issues = append(issues, ValidationIssue{
			Path:    "packetQueue.intervalMs",
			Message: fmt.Sprintf("must be 100-1000 in steps of 50, got %d", ms),
		})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}

	validAuthModes := []string{"token", "password", "none"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}
	if cfg.Gateway.Auth.Mode == "none" && cfg.Gateway.Bind != "" && cfg.Gateway.Bind != "loopback" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: "auth mode none is only allowed on loopback",
		})
	}

	// Relay validation (only if configured)
	if cfg.Relay != nil {
		relay := cfg.Relay
		if relay.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.server",
				Message: "server is required",
			})
		}
		if relay.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.nick",
				Message: "nick is required",
			})
		}
		if relay.Port < 0 || relay.Port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    "relay.port",
				Message: fmt.Sprintf("port must be 0-65535, got %d", relay.Port),
			})
		}
		if relay.Channel != "" && !strings.HasPrefix(relay.Channel, "#") {
			issues = append(issues, ValidationIssue{
				Path:    "relay.channel",
				Message: fmt.Sprintf("must start with #, got %q", relay.Channel),
			})
		}
		if relay.SASL && relay.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.sasl",
				Message: "SASL requires a password to be set",
			})
		}
		if relay.MinIntervalMs < 0 {
			issues = append(issues, ValidationIssue{
				Path:    "relay.minIntervalMs",
				Message: "must not be negative",
			})
		}
	}

	return issues
}
