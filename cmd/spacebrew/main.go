package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/broker"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/config"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/log"
)

const (
	// Application info
	appName    = "spacebrew"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

// serveOptions holds the serve flags. A flag overrides the config file only
// when it was set on the command line.
type serveOptions struct {
	configPath string
	wsListen   string
	httpListen string
	grpcListen string
	logLevel   string
	logJSON    bool
	noAuth     bool
	secretKey  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Spacebrew publish/subscribe routing broker",
		Long: `spacebrew routes typed messages between registered clients along routes
managed by admin clients. Clients connect over WebSocket or the HTTP poll
link; the topology is managed over WebSocket, HTTP or gRPC.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	opts.bind(cmd)
	return cmd
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configPath, "config", "", "Config file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&o.wsListen, "ws-listen", config.DefaultWebSocketListen, "WebSocket listen address (empty disables)")
	cmd.Flags().StringVar(&o.httpListen, "http-listen", config.DefaultHTTPListen, "HTTP API listen address (empty disables)")
	cmd.Flags().StringVar(&o.grpcListen, "grpc-listen", config.DefaultGRPCListen, "gRPC control API listen address (empty disables)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&o.logJSON, "log-json", false, "Log as JSON instead of console output")
	cmd.Flags().BoolVar(&o.noAuth, "no-auth", false, "Disable JWT checks on admin endpoints (development only)")
	cmd.Flags().StringVar(&o.secretKey, "secret-key", "", "JWT signing key")
}

// load reads the config file, if any, and applies the flags set on top
func (o *serveOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.FromFile(o.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("ws-listen") {
		cfg.WithWebSocketListen(o.wsListen)
	}
	if flags.Changed("http-listen") {
		cfg.WithHTTPListen(o.httpListen)
	}
	if flags.Changed("grpc-listen") {
		cfg.WithGRPCListen(o.grpcListen)
	}
	if flags.Changed("log-level") {
		cfg.WithLogLevel(o.logLevel)
	}
	if flags.Changed("log-json") {
		cfg.WithLogJSON(o.logJSON)
	}
	if flags.Changed("no-auth") {
		cfg.WithNoAuth(o.noAuth)
	}
	if flags.Changed("secret-key") {
		cfg.WithSecretKey(o.secretKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Init(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("main")
	logger.Info().Str("version", appVersion).Msg("starting " + appName)

	if cfg.HTTP.NoAuth && cfg.HTTP.Listen != "" {
		logger.Warn().Msg("admin endpoints are running without authentication")
	}

	b, err := broker.New(cfg, broker.WithLogger(log.Logger))
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing broker")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	setupGracefulShutdown(ctx, cancel, b)
	logger.Info().Interface("addrs", b.Addrs()).Msg("broker started, use Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-b.Errors():
		logger.Error().Err(err).Msg("transport failed, shutting down")
		return err
	}
	logger.Info().Msg("broker stopped")
	return nil
}

// setupGracefulShutdown stops the broker on SIGINT or SIGTERM and then
// cancels the main context
func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, b *broker.Broker) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		case <-ctx.Done():
			return
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := b.Stop(shutdownCtx); err != nil {
			log.Logger.Warn().Err(err).Msg("error during graceful stop")
		}
		cancel()
	}()
}
