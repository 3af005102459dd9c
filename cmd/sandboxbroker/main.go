package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/allocator"
	"github.com/cuemby/sandboxbroker/pkg/cleanup"
	"github.com/cuemby/sandboxbroker/pkg/config"
	"github.com/cuemby/sandboxbroker/pkg/httpapi"
	"github.com/cuemby/sandboxbroker/pkg/logging"
	"github.com/cuemby/sandboxbroker/pkg/reconciler"
	"github.com/cuemby/sandboxbroker/pkg/service"
	"github.com/cuemby/sandboxbroker/pkg/store/dynamostore"
	"github.com/cuemby/sandboxbroker/pkg/upstream"
	"github.com/cuemby/sandboxbroker/pkg/upstream/httpclient"
	"github.com/cuemby/sandboxbroker/pkg/upstream/mockclient"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sandboxbroker",
	Short:   "Sandbox broker - ephemeral cloud sandbox account allocator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sandboxbroker version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker's HTTP API, sync reconciler, and cleanup reclaimer",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := dynamostore.New(ctx, dynamostore.Config{
		EndpointURL: cfg.DDBEndpointURL,
		TableName:   cfg.DDBTableName,
	})
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	up, err := newUpstreamClient(cfg)
	if err != nil {
		return fmt.Errorf("configure upstream client: %w", err)
	}
	logging.Logger.Info().Bool("mock_upstream", cfg.MockUpstream()).Msg("upstream client configured")

	alloc := allocator.New(st, allocator.Config{
		KCandidates: cfg.KCandidates,
		LeaseFor:    time.Duration(cfg.LabDurationHours) * time.Hour,
	})
	recon := reconciler.New(st, up, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	reclaimer := cleanup.New(st, time.Duration(cfg.CleanupIntervalSeconds)*time.Second, time.Duration(cfg.DeletionTimeoutSeconds)*time.Second)
	svc := service.New(st, alloc, recon)

	recon.Start()
	reclaimer.Start()

	srv := httpapi.New(cfg, svc)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logging.Logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		return srv.Serve(cfg.ListenAddr)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logging.Logger.Info().Msg("shutdown signal received")
	case <-egCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error().Err(err).Msg("http server shutdown error")
	}
	reclaimer.Stop()
	recon.Stop()
	cancel()

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logging.Logger.Info().Msg("shutdown complete")
	return nil
}

func newUpstreamClient(cfg config.Config) (upstream.Client, error) {
	if cfg.MockUpstream() {
		return mockclient.New()
	}
	return httpclient.New(cfg.CSPAPIBaseURL, cfg.CSPAPIToken), nil
}
