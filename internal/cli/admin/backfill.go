package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// BackfillCmd returns the checksum backfill command.
func BackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill-checksums",
		Short: "Compute missing content checksums",
		Long:  "Fetch the stored content of an owner's files that have no checksum yet and record one, so they take part in duplicate detection",
		RunE:  runBackfill,
	}

	cmd.Flags().String("owner", "", "Owner ID (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	outputFormat, _ := cmd.Flags().GetString("output")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.dedup.BackfillChecksums(ctx, owner, a.ingest.FetchContent)
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}

		if outputFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d files: %d updated, %d errored\n",
			result.Processed, result.Updated, result.Errored)
		return nil
	})
}
