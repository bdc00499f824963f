package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/gftdcojp/tickstore/internal/app"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool
	publish    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tickstore-ctl",
		Short: "tickstore-ctl - operate a tiered market-data store",
		Long: `tickstore-ctl works directly on the storage root named in the
configuration file. Stop the tickstore daemon first: both use the same
metadata database, which admits one writer at a time.

Examples:
  # Re-index the storage root with checksums
  tickstore-ctl rebuild --checksums

  # Show what the next lifecycle pass would do
  tickstore-ctl evaluate

  # Apply it, logging only
  tickstore-ctl execute --dry-run

  # Move everything in warm to cold now
  tickstore-ctl migrate --from warm --to cold

  # Quota usage and violations
  tickstore-ctl quota status`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&publish, "publish", false, "publish events to NATS when nats.enabled is set")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRebuildCmd(),
		newVerifyCmd(),
		newSearchCmd(),
		newPlanCmd(),
		newMigrateCmd(),
		newEvaluateCmd(),
		newExecuteCmd(),
		newStatsCmd(),
		newQuotaCmd(),
		newActionsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tickstore-ctl %s\n", version)
		},
	}
}

// withApp loads the configuration, opens every component and runs fn under
// a context cancelled by SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logCfg := cfg.Observability.Logging
	logCfg.Format = "console"
	logCfg.Level = logLevel
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, cfg, app.Options{ConnectNATS: publish}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Debug("command failed", zap.Error(err))
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// errFailed makes the process exit non-zero after a result was printed.
var errFailed = errors.New("completed with errors")
