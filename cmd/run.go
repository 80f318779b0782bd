package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand, which performs one refresh and exits.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline once",
		Long: `Discovers the listing links, extracts every detail page and hands the
ranking to the store. Exits non-zero when the run fails; a failed run never
touches the stored ranking.`,
		RunE: runOnceCommand,
	}
}

func runOnceCommand(cmd *cobra.Command, _ []string) error {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := s.app.Runner().RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run %s: %w", report.ID, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
