// Package config loads agentdesk's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bazelment/agentdesk/agentdesk/store"
	"github.com/bazelment/agentdesk/logging"
)

// Backend names.
const (
	BackendClaude = "claude"
	BackendACP    = "acp"
)

// ACP permission policies.
const (
	PolicyAutoAllow = "auto_allow"
	PolicyReject    = "reject"
)

// Config is the root of config.yaml.
type Config struct {
	Backend    string           `yaml:"backend" json:"backend"`
	Claude     ClaudeConfig     `yaml:"claude" json:"claude"`
	ACP        ACPConfig        `yaml:"acp" json:"acp"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Permission PermissionConfig `yaml:"permission" json:"permission"`
}

// ClaudeConfig configures the in-process Claude backend.
type ClaudeConfig struct {
	CLIPath        string `yaml:"cli_path" json:"cli_path,omitempty"`
	Model          string `yaml:"model" json:"model,omitempty"`
	PermissionMode string `yaml:"permission_mode" json:"permission_mode,omitempty"`
}

// ACPConfig configures the out-of-process ACP backend.
type ACPConfig struct {
	Env              map[string]string `yaml:"env" json:"env,omitempty"`
	Command          string            `yaml:"command" json:"command"`
	PermissionPolicy string            `yaml:"permission_policy" json:"permission_policy"`
	Args             []string          `yaml:"args" json:"args,omitempty"`
}

// StoreConfig selects the persistence gateway.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	// Path is the sqlite file or the JSON directory. Empty uses the
	// driver's default under ~/.agentdesk.
	Path string `yaml:"path" json:"path,omitempty"`
}

// ServerConfig configures `agentdesk serve`.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	MetricsPath    string   `yaml:"metrics_path" json:"metrics_path"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// PermissionConfig configures the permission relay.
type PermissionConfig struct {
	// Timeout denies unanswered permission requests. Zero waits forever.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendClaude,
		ACP:     ACPConfig{PermissionPolicy: PolicyAutoAllow},
		Store:   StoreConfig{Driver: store.DriverSQLite},
		Server:  ServerConfig{Addr: "127.0.0.1:7420", MetricsPath: "/metrics"},
		Log:     LogConfig{Level: "info", Format: string(logging.FormatText)},
	}
}

// DefaultPath returns ~/.agentdesk/config.yaml.
func DefaultPath() string {
	return filepath.Join(store.DefaultDir(), "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendClaude:
	case BackendACP:
		if c.ACP.Command == "" {
			return errors.New("acp.command is required when backend is acp")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.ACP.PermissionPolicy {
	case PolicyAutoAllow, PolicyReject:
	default:
		return fmt.Errorf("unknown acp.permission_policy %q", c.ACP.PermissionPolicy)
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverJSON:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	if c.Permission.Timeout < 0 {
		return errors.New("permission.timeout must not be negative")
	}
	return nil
}
