package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultGatewayPort      = 18790
	DefaultFPS              = 30
	DefaultPacketIntervalMs = 600
	DefaultRelayIntervalMs  = 1000
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// StorePath returns the sqlite database location, falling back to the
// standard data directory.
func (c Config) StorePath(p Paths) string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return p.DB
}
