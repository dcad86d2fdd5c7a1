// timetablectl drives the timetable engine from the command line without the HTTP gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/bootstrap"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
)

var (
	actor    string
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "timetablectl",
		Short: "Operate the timetable engine",
		Long: `timetablectl generates timetables and manages room conflicts against the configured database.

Examples:
  # Generate and publish a timetable for a section
  timetablectl generate --section 11-A --publish

  # Take a room offline and auto-resolve the resulting conflict
  timetablectl room-status LAB-2 in_maintenance --reason "ceiling leak"
  timetablectl resolve <conflict-id>

  # Export the audit trail as PDF
  timetablectl audit export --format pdf --dir ./exports
`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor recorded on audit rows (default: system)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(roomStatusCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(dismissCmd())
	rootCmd.AddCommand(auditCmd())
	return rootCmd
}

// withServices loads config, wires the engine and hands it to fn.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *bootstrap.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.Build(false, logLevel, "console")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx := cmd.Context()
	svc, err := bootstrap.Build(ctx, cfg, logr)
	if err != nil {
		logr.Error("wire services", zap.Error(err))
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
