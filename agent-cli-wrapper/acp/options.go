package acp

import (
	"log/slog"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
)

// Config holds runner configuration.
type Config struct {
	Logger   *slog.Logger
	Start    StartFunc
	Policy   PermissionPolicy
	Fs       FsHandler
	Observer jsonrpc.CallObserver
	Env      map[string]string
	// Command is the agent binary, e.g. "gemini".
	Command       string
	ClientName    string
	ClientVersion string
	Args          []string
}

// Option is a functional option for configuring a Runner.
type Option func(*Config)

// WithCommand sets the agent binary and its arguments.
func WithCommand(command string, args ...string) Option {
	return func(c *Config) {
		c.Command = command
		c.Args = args
	}
}

// WithEnv adds environment variables for the agent.
func WithEnv(env map[string]string) Option {
	return func(c *Config) {
		if c.Env == nil {
			c.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.Env[k] = v
		}
	}
}

// WithPermissionPolicy sets how permission requests are answered.
func WithPermissionPolicy(p PermissionPolicy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithFsHandler replaces the handler for fs/* requests. By default files
// are served from the session's working directory.
func WithFsHandler(h FsHandler) Option {
	return func(c *Config) {
		c.Fs = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithStartFunc replaces process spawning, mainly for tests.
func WithStartFunc(fn StartFunc) Option {
	return func(c *Config) {
		c.Start = fn
	}
}

// WithClientInfo sets the name and version sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Config) {
		c.ClientName = name
		c.ClientVersion = version
	}
}

// WithCallObserver reports every outbound request's latency.
func WithCallObserver(o jsonrpc.CallObserver) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

func defaultConfig() Config {
	return Config{
		Command:    "gemini",
		Args:       []string{"--experimental-acp"},
		Policy:     AutoAllow,
		Start:      StartProcess,
		ClientName: "agentdesk",
	}
}
