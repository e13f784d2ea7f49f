package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neo4j/graphql-sub030/internal/core/db"
	"github.com/neo4j/graphql-sub030/internal/types"
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Inspect recorded subscriptions",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded subscriptions",
	RunE:  runSubscriptionsList,
}

var subscriptionsEndCmd = &cobra.Command{
	Use:   "end <subscriber-id>",
	Short: "Mark a recorded subscription as ended",
	Long: `end closes an audit row left open by a server that did not shut down
cleanly. It does not affect live streams.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubscriptionsEnd,
}

func init() {
	subscriptionsEndCmd.Flags().String("reason", "ended by operator", "end reason recorded")
	subscriptionsCmd.AddCommand(subscriptionsEndCmd)
	subscriptionsListCmd.Flags().Bool("all", false, "include ended subscriptions")
	subscriptionsListCmd.Flags().Int("limit", db.DefaultListLimit, "maximum rows with --all")
	subscriptionsListCmd.Flags().String("output", "table", "output format (table, json)")
	subscriptionsCmd.AddCommand(subscriptionsListCmd)
	rootCmd.AddCommand(subscriptionsCmd)
}

func openStore(cmd *cobra.Command) (*db.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.NewStore(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return store, func() { database.Close() }, nil
}

func runSubscriptionsEnd(cmd *cobra.Command, args []string) error {
	id, err := types.ParseSubscriberID(args[0])
	if err != nil {
		return fmt.Errorf("invalid subscriber id %q: %w", args[0], err)
	}
	reason, _ := cmd.Flags().GetString("reason")

	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.RecordUnsubscribe(cmd.Context(), id, reason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "subscription %s ended\n", id)
	return nil
}

func runSubscriptionsList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")

	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListSubscriptions(cmd.Context(), !all, limit)
	if err != nil {
		return err
	}

	switch output {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "table":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENTITY\tEVENTS\tAUTH\tCREATED\tENDED\tREASON")
		for _, r := range records {
			ended := "-"
			if r.EndedAt.Valid {
				ended = r.EndedAt.Time.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
				r.SubscriberID, r.Entity, r.Events, r.Authenticated,
				r.CreatedAt.UTC().Format(time.RFC3339), ended, r.EndReason.String)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
