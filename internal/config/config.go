package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the credentials for the Telegram-backed session.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

// Config is the gateway deploy configuration. It is loaded once at startup
// and treated as immutable for the lifetime of the process; the watcher only
// flags that a restart is needed when config.yaml changes on disk.
type Config struct {
	HomeDir string `yaml:"-"`

	// Account is the numeric identity the gateway reports as self_id until
	// the session is online.
	Account int64 `yaml:"account"`

	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	UseHTTP bool   `yaml:"use_http"`
	UseWS   bool   `yaml:"use_ws"`

	AccessToken string `yaml:"access_token"`
	Secret      string `yaml:"secret"`

	PostURL            []string `yaml:"post_url"`
	PostTimeoutSeconds int      `yaml:"post_timeout"`
	PostMessageFormat  string   `yaml:"post_message_format"`

	WSReverseURL                 []string `yaml:"ws_reverse_url"`
	WSReverseReconnectInterval   int      `yaml:"ws_reverse_reconnect_interval"` // ms; negative disables redialing
	WSReverseReconnectOnCode1000 bool     `yaml:"ws_reverse_reconnect_on_code_1000"`

	EnableCORS        bool `yaml:"enable_cors"`
	EnableHeartbeat   bool `yaml:"enable_heartbeat"`
	HeartbeatInterval int  `yaml:"heartbeat_interval"` // ms

	// RateLimitInterval is the delay between queued action invocations, in
	// milliseconds.
	RateLimitInterval int `yaml:"rate_limit_interval"`

	LogLevel string `yaml:"log_level"`

	Telegram TelegramConfig `yaml:"telegram"`
}

func defaultConfig() Config {
	return Config{
		Host:                       "0.0.0.0",
		Port:                       5700,
		UseHTTP:                    true,
		UseWS:                      false,
		PostTimeoutSeconds:         30,
		PostMessageFormat:          "array",
		WSReverseReconnectInterval: 3000,
		EnableCORS:                 true,
		HeartbeatInterval:          15000,
		RateLimitInterval:          500,
		LogLevel:                   "info",
	}
}

// HomeDir resolves the gateway data directory: $ONEBOT_HOME or ~/.oicq.
func HomeDir() string {
	if override := os.Getenv("ONEBOT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".oicq")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, applies env overrides and
// fills in defaults. A missing file is not an error; defaults apply.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create gateway home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ONEBOT_HOST"); raw != "" {
		cfg.Host = raw
	}
	if raw := os.Getenv("ONEBOT_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Port = v
		}
	}
	if raw := os.Getenv("ONEBOT_ACCESS_TOKEN"); raw != "" {
		cfg.AccessToken = raw
	}
	if raw := os.Getenv("ONEBOT_SECRET"); raw != "" {
		cfg.Secret = raw
	}
	if raw := os.Getenv("ONEBOT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = 5700
	}
	if cfg.RateLimitInterval < 0 {
		cfg.RateLimitInterval = 500
	}
	if cfg.PostTimeoutSeconds <= 0 {
		cfg.PostTimeoutSeconds = 30
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15000
	}
	if cfg.PostMessageFormat != "string" {
		cfg.PostMessageFormat = "array"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PostTimeout returns the webhook client timeout as a duration.
func (c Config) PostTimeout() time.Duration {
	return time.Duration(c.PostTimeoutSeconds) * time.Second
}

// RatePace returns the action queue pacing delay as a duration.
func (c Config) RatePace() time.Duration {
	return time.Duration(c.RateLimitInterval) * time.Millisecond
}

// HeartbeatPace returns the heartbeat period as a duration.
func (c Config) HeartbeatPace() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}

// ReconnectPace returns the reverse-socket redial delay as a duration.
// Negative means redialing is disabled.
func (c Config) ReconnectPace() time.Duration {
	return time.Duration(c.WSReverseReconnectInterval) * time.Millisecond
}
