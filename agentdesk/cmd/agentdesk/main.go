// Command agentdesk runs coding-agent sessions behind a websocket gateway.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/acp"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/claude"
	"github.com/bazelment/agentdesk/agentdesk/config"
	"github.com/bazelment/agentdesk/agentdesk/metrics"
	"github.com/bazelment/agentdesk/agentdesk/store"
	"github.com/bazelment/agentdesk/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath  string
	backendFlag string
	storeDriver string
	storePath   string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "agentdesk",
	Short: "Run coding-agent sessions behind a websocket gateway",
	Long: `agentdesk drives Claude Code or any ACP agent, normalizes their output
into one message stream, persists every session and relays permission
questions to connected UI clients.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Agent backend: claude or acp (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Session store: sqlite or json (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "Session store location (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
}

// newLevel returns the configured level as a LevelVar so serve can change
// it on reload.
func newLevel(cfg *config.Config) *slog.LevelVar {
	level := new(slog.LevelVar)
	if l, err := logging.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}
	return level
}

func newLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	return logging.NewLeveled(os.Stderr, level, logging.Format(cfg.Log.Format))
}

func openStore(cfg *config.Config) (store.Gateway, error) {
	return store.Open(cfg.Store.Driver, cfg.Store.Path)
}

// newRunner builds the backend runner selected by cfg.
func newRunner(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (agentstream.Runner, error) {
	switch cfg.Backend {
	case config.BackendClaude:
		opts := []claude.Option{claude.WithLogger(logger)}
		if cfg.Claude.CLIPath != "" {
			opts = append(opts, claude.WithCLIPath(cfg.Claude.CLIPath))
		}
		if cfg.Claude.Model != "" {
			opts = append(opts, claude.WithModel(cfg.Claude.Model))
		}
		if cfg.Claude.PermissionMode != "" {
			opts = append(opts, claude.WithPermissionMode(claude.PermissionMode(cfg.Claude.PermissionMode)))
		}
		return claude.NewRunner(opts...), nil
	case config.BackendACP:
		policy, err := acp.PolicyByName(cfg.ACP.PermissionPolicy)
		if err != nil {
			return nil, err
		}
		return acp.NewRunner(
			acp.WithCommand(cfg.ACP.Command, cfg.ACP.Args...),
			acp.WithEnv(cfg.ACP.Env),
			acp.WithPermissionPolicy(policy),
			acp.WithLogger(logger),
			acp.WithClientInfo("agentdesk", version),
			acp.WithCallObserver(m.ObserveRPC),
		), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
