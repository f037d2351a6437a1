package admin

import (
	"fmt"

	"github.com/cloo-solutions/briefly/internal/config"
	"github.com/cloo-solutions/briefly/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the schema migration command group.
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  "Apply, roll back or inspect the SQL migrations in BRIEFLY_MIGRATIONS_DIR",
	}

	cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text or json)")

	cmd.AddCommand(migrateStep("up", "Apply all pending migrations", (*database.Migrator).Up))
	cmd.AddCommand(migrateStep("down", "Roll back the most recent migration", (*database.Migrator).Down))
	cmd.AddCommand(migrateStep("version", "Print the current schema version", (*database.Migrator).Version))

	return cmd
}

func migrateStep(use, short string, step func(*database.Migrator) (*database.MigrationStatus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			mg, err := database.NewMigrator(cfg.DatabaseURL, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			defer func() { _ = mg.Close() }()

			status, err := step(mg)
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			dirty := ""
			if status.Dirty {
				dirty = " (dirty)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d%s\n", status.Version, dirty)
			return nil
		},
	}
}
