package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/commands"
	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/envresolver"
	"github.com/mcpmux/gateway/internal/logs"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/proxy"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/secret"
	"github.com/mcpmux/gateway/internal/upstream"
)

var (
	configFile string
	listen     string
	logLevel   string

	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpmux",
		Short:   "mcpmux multiplexes many upstream MCP tool servers behind one MCP endpoint",
		Version: version,
		RunE:    runServer,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Address to serve Streamable HTTP on (stdio if unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if logLevel != "" {
		if cfg.Logging == nil {
			cfg.Logging = logs.DefaultLogConfig()
		}
		cfg.Logging.Level = logLevel
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mcpmux",
		zap.String("version", version),
		zap.Int("servers_configured", len(cfg.Servers)),
		zap.String("data_dir", cfg.DataDir))

	secrets := secret.NewResolver()
	secrets.Register("env", secret.NewEnvProvider())
	secrets.Register("keyring", secret.NewKeyringProvider())

	coord := oauthcoord.New(logger)
	defer coord.Close()
	envResolver := envresolver.New(nil, secrets)
	metrics := proxy.NewMetrics()
	cmdSet := commands.NewDefaultSet()

	// registry.New needs its OnListChanged callback before the HostServer
	// that callback targets can exist (the HostServer needs the registry's
	// Core, which needs the registry itself). Forward-declare the pointer
	// and close over it; it's assigned once NewHostServer runs below.
	var hostServer *proxy.HostServer
	reg := registry.New(nil, func() {
		if hostServer != nil {
			hostServer.SyncTools()
		}
	}, logger)

	for _, def := range cmdSet.Definitions() {
		reg.RegisterDiscoveredTool("", def, registry.SourceCommand)
	}

	mgr := upstream.New(reg, envResolver, coord, http.DefaultClient, cfg.DataDir, nil, logger)
	core := proxy.New(reg, cmdSet, mgr, coord, metrics, cfg.Servers, logger)
	hostServer = proxy.NewHostServer(core, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig2 := <-sigChan:
			logger.Warn("received second signal, forcing immediate exit", zap.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	mgr.ConnectToTargetServers(ctx, cfg.Servers)
	metrics.SetServersTotal(len(cfg.Servers))

	if cfg.Listen != "" {
		return serveHTTP(ctx, cfg.Listen, mgr, metrics, hostServer, logger)
	}
	return serveStdio(ctx, hostServer, logger)
}

func serveHTTP(ctx context.Context, addr string, mgr *upstream.Manager, metrics *proxy.Metrics, hostServer *proxy.HostServer, logger *zap.Logger) error {
	r := chi.NewRouter()
	r.Mount("/", proxy.NewHTTPHandler(mgr, metrics))
	r.Mount("/mcp", hostServer.HTTPHandler())

	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// serveStdio blocks on ServeStdio until the host closes stdin, which is the
// expected clean-disconnect path. A signal during that wait has no way to
// unblock the underlying stdin read, so it forces an exit rather than
// waiting on a shutdown that can't happen.
func serveStdio(ctx context.Context, hostServer *proxy.HostServer, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- hostServer.ServeStdio()
	}()

	select {
	case <-ctx.Done():
		logger.Info("stdio host disconnect cannot be awaited past a signal, exiting")
		return nil
	case err := <-errCh:
		return err
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}
