package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which processes one batch of rows.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Processes every pending row once",
		Long: `Scans the sheet for rows with a URL and no finished report, then fetches,
drafts and writes each one in order. Row failures are counted and do not
change the exit status; a failed sheet scan does.`,
		Args: cobra.NoArgs,
		RunE: runBatchCommand,
	}
}

func runBatchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	logger := appInstance.Logger()

	summary, err := appInstance.Run(cmd.Context())
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Warn("batch interrupted", zap.Int("processed", summary.Succeeded+summary.Failed), zap.Int("total", summary.Total))
		return nil
	default:
		return fmt.Errorf("run batch: %w", err)
	}

	logger.Info("run command finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
