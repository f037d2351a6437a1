package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloo-solutions/briefly/internal/config"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/spf13/cobra"
)

// SyncCmd returns the one-shot provider sync command.
func SyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check a provider connection for changes",
		Long:  "List an owner's cloud drive, classify files as new, updated, unchanged or deleted, and optionally queue changed files for ingestion",
		RunE:  runSync,
	}

	cmd.Flags().String("owner", "", "Owner ID (required)")
	cmd.Flags().String("provider", "", "Provider: google or microsoft (required)")
	cmd.Flags().Bool("full", false, "Ignore the stored cursor and list from the beginning")
	cmd.Flags().Bool("enqueue", false, "Queue new and updated files for ingestion")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	providerName, _ := cmd.Flags().GetString("provider")
	full, _ := cmd.Flags().GetBool("full")
	enqueue, _ := cmd.Flags().GetBool("enqueue")
	outputFormat, _ := cmd.Flags().GetString("output")

	provider, err := domain.ParseProvider(providerName)
	if err != nil {
		return fmt.Errorf("invalid provider %q: %w", providerName, err)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.sync.Check(ctx, owner, provider, service.SyncOptions{FullResync: full, Enqueue: enqueue})
		if err != nil {
			return fmt.Errorf("sync check failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(out, result)
		}

		s := result.Summary
		fmt.Fprintf(out, "%s: %d new, %d updated, %d unchanged, %d deleted (%d listed)\n",
			result.Provider, s.New, s.Updated, s.Unchanged, s.Deleted, s.Total)
		if enqueue {
			fmt.Fprintf(out, "queued %d files\n", result.Enqueued)
		}
		if !result.Complete && result.NextCursor != nil {
			fmt.Fprintln(out, "listing not finished; run again to continue")
		}
		for _, pe := range result.Errors {
			fmt.Fprintf(out, "page %d: %s\n", pe.Page, pe.Error)
		}
		return nil
	})
}

// withApp loads config, sets up logging and wires the services for a
// one-shot command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, syncLogs, err := setupLogging(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer syncLogs()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
