package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/burrowd/burrow/pkg/config"
	"github.com/burrowd/burrow/pkg/daemon"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrowd",
	Short: "Burrow - event routing and completion daemon for agent fleets",
	Long: `Burrow routes events between agents over a unix-domain socket,
correlates asynchronous model completions back to their requesters,
and keeps an ordered, replayable log of everything that happened.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Long: `Run the Burrow daemon in the foreground.

The daemon listens on a unix-domain socket for client connections and,
when configured, serves Prometheus metrics and health endpoints over HTTP.
It shuts down cleanly on SIGINT or SIGTERM.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	runCmd.Flags().String("socket", "", "Unix socket path (overrides config)")
	runCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	runCmd.Flags().String("metrics-addr", "", "Metrics listen address (overrides config)")
	runCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	d.Stop()
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("socket"); v != "" {
		cfg.SocketPath = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
}
