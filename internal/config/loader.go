package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	if cfg.Relay != nil {
		cfg.Relay.Password = expandEnvVars(cfg.Relay.Password)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Game.FPS == 0 {
		cfg.Game.FPS = DefaultFPS
	}
	if cfg.PacketQueue.IntervalMs == 0 {
		cfg.PacketQueue.IntervalMs = DefaultPacketIntervalMs
	}
	if cfg.PacketQueue.Coalesce == nil {
		cfg.PacketQueue.Coalesce = []int{10, 11}
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultGatewayPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Relay != nil {
		if cfg.Relay.Port == 0 {
			if cfg.Relay.UseTLS {
				cfg.Relay.Port = 6697
			} else {
				cfg.Relay.Port = 6667
			}
		}
		if cfg.Relay.MinIntervalMs == 0 {
			cfg.Relay.MinIntervalMs = DefaultRelayIntervalMs
		}
	}
}

// envOverrides are the LOADSTONE_* variables that take precedence over the
// config file.
type envOverrides struct {
	LogLevel         string `env:"LOADSTONE_LOG_LEVEL"`
	LogFile          string `env:"LOADSTONE_LOG_FILE"`
	GameServerURL    string `env:"LOADSTONE_GAME_SERVER_URL"`
	PacketIntervalMs int    `env:"LOADSTONE_PACKET_INTERVAL_MS"`
	GatewayPort      int    `env:"LOADSTONE_GATEWAY_PORT"`
	GatewayBind      string `env:"LOADSTONE_GATEWAY_BIND"`
	GatewayToken     string `env:"LOADSTONE_GATEWAY_TOKEN"`
	StorePath        string `env:"LOADSTONE_STORE_PATH"`
}

// applyEnvOverrides reads LOADSTONE_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigError{Message: "invalid environment override: " + err.Error()}
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if o.LogFile != "" {
		cfg.Logging.File = o.LogFile
	}
	if o.GameServerURL != "" {
		cfg.Game.ServerURL = o.GameServerURL
	}
	if o.PacketIntervalMs != 0 {
		cfg.PacketQueue.IntervalMs = o.PacketIntervalMs
	}
	if o.GatewayPort != 0 {
		cfg.Gateway.Port = o.GatewayPort
	}
	if o.GatewayBind != "" {
		cfg.Gateway.Bind = o.GatewayBind
	}
	if o.GatewayToken != "" {
		cfg.Gateway.Auth.Token = o.GatewayToken
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	return nil
}
