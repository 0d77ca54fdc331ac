package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bazelment/agentdesk/agentdesk/config"
	"github.com/bazelment/agentdesk/agentdesk/metrics"
	"github.com/bazelment/agentdesk/agentdesk/remote"
	"github.com/bazelment/agentdesk/agentdesk/session"
	"github.com/bazelment/agentdesk/logging"
)

const shutdownTimeout = 5 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over websocket and REST",
	Long: `Serve starts the session gateway. UI clients connect to /ws to start,
continue, stop and delete sessions, answer permission questions and
receive every session event. Prometheus metrics are served on the
configured metrics path. The config file is watched; log level and
permission timeout changes apply without a restart.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	level := newLevel(cfg)
	logger := newLogger(cfg, level)
	m := metrics.New()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	runner, err := newRunner(cfg, logger, m)
	if err != nil {
		_ = st.Close()
		return err
	}

	broadcaster := remote.NewBroadcaster(m, logger)
	mgr := session.NewManager(session.ManagerConfig{
		Store:             st,
		Runner:            runner,
		Broadcaster:       broadcaster,
		Metrics:           m,
		Logger:            logger.With("component", "session"),
		PermissionTimeout: cfg.Permission.Timeout,
	})
	srv := remote.NewServer(remote.ServerConfig{
		Sessions:       mgr,
		Broadcaster:    broadcaster,
		Logger:         logger.With("component", "remote"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	mux := http.NewServeMux()
	srv.Routes(mux)
	if cfg.Server.MetricsPath != "" {
		mux.Handle("GET "+cfg.Server.MetricsPath, m.Handler())
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("agentdesk listening", "addr", cfg.Server.Addr, "backend", runner.Name(), "store", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(next *config.Config) {
			if l, err := logging.ParseLevel(next.Log.Level); err == nil && !verbose {
				level.Set(l)
			}
			mgr.SetPermissionTimeout(next.Permission.Timeout)
			logger.Info("config reloaded", "level", next.Log.Level, "permission_timeout", next.Permission.Timeout)
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		})
	})

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Info("shutting down")
	if err := mgr.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close sessions: %w", err))
	}
	broadcaster.Close()
	if err := st.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}
