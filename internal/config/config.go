// Package config loads the client configuration from JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"argon/internal/domain"
)

// Config is the root configuration for argon.
type Config struct {
	Session SessionConfig `json:"session" yaml:"session"`
	General GeneralConfig `json:"general" yaml:"general"`
	Send    SendConfig    `json:"send" yaml:"send"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// SessionConfig describes the gateway connection.
type SessionConfig struct {
	Host       string `json:"host" yaml:"host"`
	Account    QQ     `json:"account" yaml:"account"`
	VerifyKey  string `json:"verifyKey,omitempty" yaml:"verifyKey,omitempty"`
	SingleMode bool   `json:"singleMode,omitempty" yaml:"singleMode,omitempty"`
	Transport  string `json:"transport" yaml:"transport"` // "websocket" | "http"

	CallTimeoutSeconds  int `json:"callTimeoutSeconds" yaml:"callTimeoutSeconds"`
	PollIntervalMs      int `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
	ReconnectSeconds    int `json:"reconnectSeconds" yaml:"reconnectSeconds"`
	MaxReconnectSeconds int `json:"maxReconnectSeconds" yaml:"maxReconnectSeconds"`
}

// Domain returns the session the adapters are built from.
func (s SessionConfig) Domain() domain.Session {
	return domain.Session{
		Host:       s.Host,
		Account:    int64(s.Account),
		VerifyKey:  s.VerifyKey,
		SingleMode: s.SingleMode,
	}
}

func (s SessionConfig) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutSeconds) * time.Second
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel" yaml:"logLevel"`
	LogFile     string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"` // handlers running at once
	MaxHistory  int    `json:"maxHistory" yaml:"maxHistory"`   // events kept for replay
}

type SendConfig struct {
	Burst     int     `json:"burst" yaml:"burst"`
	PerMinute float64 `json:"perMinute" yaml:"perMinute"`
}

type StoreConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	LogEvents     bool   `json:"logEvents,omitempty" yaml:"logEvents,omitempty"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// QQ is an account number that also accepts a quoted string, so that
// "${ARGON_ACCOUNT}" can be substituted into the file.
type QQ int64

func (q *QQ) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*q = QQ(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("account must be a number: %w", err)
	}
	return q.parse(s)
}

func (q *QQ) UnmarshalYAML(node *yaml.Node) error {
	return q.parse(node.Value)
}

func (q *QQ) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*q = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("account %q is not a number", s)
	}
	*q = QQ(n)
	return nil
}

// DefaultConfigDir returns the default config directory (~/.argon).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".argon"
	}
	return filepath.Join(home, ".argon")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads path over Defaults, substituting environment variables first.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses default when VAR is unset or empty; an unset variable
// without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension says so.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Session.Host == "" {
		errs = append(errs, "session.host is required")
	} else if !strings.Contains(cfg.Session.Host, "://") {
		errs = append(errs, "session.host must include a scheme (http:// or https://)")
	}
	if !cfg.Session.SingleMode && cfg.Session.Account <= 0 {
		errs = append(errs, "session.account is required unless singleMode is set")
	}
	switch cfg.Session.Transport {
	case "websocket", "http":
	default:
		errs = append(errs, "session.transport must be one of: websocket, http")
	}
	if cfg.Session.CallTimeoutSeconds < 1 {
		errs = append(errs, "session.callTimeoutSeconds must be >= 1")
	}
	if cfg.Session.ReconnectSeconds < 1 || cfg.Session.MaxReconnectSeconds < cfg.Session.ReconnectSeconds {
		errs = append(errs, "session.reconnectSeconds must be >= 1 and <= maxReconnectSeconds")
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.Concurrency < 1 || cfg.General.Concurrency > 1024 {
		errs = append(errs, "general.concurrency must be between 1 and 1024")
	}
	if cfg.General.MaxHistory < 0 {
		errs = append(errs, "general.maxHistory must be >= 0")
	}

	if cfg.Send.Burst < 1 {
		errs = append(errs, "send.burst must be >= 1")
	}
	if cfg.Send.PerMinute <= 0 {
		errs = append(errs, "send.perMinute must be > 0")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, "store.retentionDays must be >= 0")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
