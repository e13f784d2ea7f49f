package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neo4j/graphql-sub030/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage audit database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		m, err := db.NewMigrator(database)
		if err != nil {
			return err
		}
		ran, err := m.Up(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ran {
			logger.WithField("migration", id).Info("migration applied")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(ran))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		m, err := db.NewMigrator(database)
		if err != nil {
			return err
		}
		statuses, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT\tDURATION")
		for _, s := range statuses {
			state, at, dur := "pending", "-", "-"
			if s.Applied {
				state = "applied"
				at = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				dur = s.Duration.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Version, state, at, dur)
		}
		return w.Flush()
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
