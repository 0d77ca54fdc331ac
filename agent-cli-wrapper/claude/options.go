package claude

import "log/slog"

// PermissionMode controls tool execution approval.
type PermissionMode string

const (
	// PermissionModeDefault routes each tool call through can_use_tool.
	PermissionModeDefault PermissionMode = "default"
	// PermissionModeAcceptEdits auto-approves file modifications.
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	// PermissionModePlan reviews a plan before execution.
	PermissionModePlan PermissionMode = "plan"
	// PermissionModeBypass auto-approves all tools.
	PermissionModeBypass PermissionMode = "bypassPermissions"
)

// AskUserQuestionTool is the interactive tool surfaced to the user.
// Every other tool is approved without asking.
const AskUserQuestionTool = "AskUserQuestion"

// Config holds runner configuration.
type Config struct {
	Logger *slog.Logger

	// QueryFunc starts the backend conversation. Defaults to StartProcess.
	QueryFunc QueryFunc

	// CLIPath is the Claude CLI binary; "claude" from PATH when empty.
	CLIPath string

	// Model to use, e.g. "sonnet". CLI default when empty.
	Model string

	PermissionMode PermissionMode

	// ExtraArgs are appended to the CLI command line.
	ExtraArgs []string
}

// Option is a functional option for configuring a Runner.
type Option func(*Config)

// WithCLIPath sets a custom CLI binary path.
func WithCLIPath(path string) Option {
	return func(c *Config) {
		c.CLIPath = path
	}
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithPermissionMode sets the permission mode.
func WithPermissionMode(mode PermissionMode) Option {
	return func(c *Config) {
		c.PermissionMode = mode
	}
}

// WithExtraArgs appends raw CLI arguments.
func WithExtraArgs(args ...string) Option {
	return func(c *Config) {
		c.ExtraArgs = append(c.ExtraArgs, args...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithQueryFunc replaces the backend, mainly for tests.
func WithQueryFunc(fn QueryFunc) Option {
	return func(c *Config) {
		c.QueryFunc = fn
	}
}

func defaultConfig() Config {
	return Config{
		CLIPath:        "claude",
		PermissionMode: PermissionModeDefault,
		QueryFunc:      StartProcess,
	}
}
