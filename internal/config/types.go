package config

// Config is the root configuration for loadstone.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Game        GameConfig        `yaml:"game,omitempty"`
	PacketQueue PacketQueueConfig `yaml:"packetQueue,omitempty"`
	Gateway     GatewayConfig     `yaml:"gateway,omitempty"`
	Store       StoreConfig       `yaml:"store,omitempty"`
	Relay       *RelayConfig      `yaml:"relay,omitempty"`
	Plugins     PluginsConfig     `yaml:"plugins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// GameConfig points the host at the game server.
type GameConfig struct {
	ServerURL   string `yaml:"serverUrl,omitempty"`
	FPS         int    `yaml:"fps,omitempty"`
	LookupsFile string `yaml:"lookupsFile,omitempty"`
}

// PacketQueueConfig seeds the packet queue plugin.
type PacketQueueConfig struct {
	IntervalMs int   `yaml:"intervalMs,omitempty"`
	Coalesce   []int `yaml:"coalesce,omitempty"` // action codes kept latest-only while queued
}

// GatewayConfig controls the control gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Enabled        *bool       `yaml:"enabled,omitempty"` // defaults to true
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// IsEnabled reports whether the gateway should be started.
func (g GatewayConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// StoreConfig locates the settings database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // empty means <home>/data/loadstone.db; ":memory:" disables persistence
}

// RelayConfig defines the IRC chat relay plugin's connection.
type RelayConfig struct {
	Server        string `yaml:"server"`
	Port          int    `yaml:"port,omitempty"`
	Nick          string `yaml:"nick"`
	Channel       string `yaml:"channel,omitempty"`
	Password      string `yaml:"password,omitempty"`
	UseTLS        bool   `yaml:"useTLS,omitempty"`
	SASL          bool   `yaml:"sasl,omitempty"`
	MinIntervalMs int    `yaml:"minIntervalMs,omitempty"`
}

// PluginsConfig locates script plugins.
type PluginsConfig struct {
	Dirs []string `yaml:"dirs,omitempty"`
}
