package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/neo4j/graphql-sub030/internal/authz"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/selection"
	"github.com/neo4j/graphql-sub030/internal/subscription"
	"github.com/neo4j/graphql-sub030/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one change event for one subscriber offline",
	Long: `check loads the schema and a change event and prints the delivery decision
a subscriber with the given where, claims and selection would receive.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().String("schema", "", "schema definition file (overrides schema_path)")
	checkCmd.Flags().String("event", "-", "change event JSON file, - for stdin")
	checkCmd.Flags().String("entity", "", "subscribed entity (defaults to the event's typename)")
	checkCmd.Flags().String("where", "", "subscriber where as JSON")
	checkCmd.Flags().String("jwt", "", "verified JWT claims as JSON; omitted means anonymous")
	checkCmd.Flags().String("context", "", "request context values as JSON")
	checkCmd.Flags().String("selection", "", "selection resolve tree JSON file")
}

// checkInput is the raw input of one offline evaluation.
type checkInput struct {
	Schema    []byte
	Event     []byte
	Entity    string
	Where     string
	JWT       string
	Context   string
	Selection []byte
}

func runCheck(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	schemaPath, _ := flags.GetString("schema")
	if schemaPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		schemaPath = cfg.SchemaPath
	}

	var in checkInput
	var err error
	if in.Schema, err = os.ReadFile(schemaPath); err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	eventPath, _ := flags.GetString("event")
	if eventPath == "-" {
		in.Event, err = io.ReadAll(cmd.InOrStdin())
	} else {
		in.Event, err = os.ReadFile(eventPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}
	if selPath, _ := flags.GetString("selection"); selPath != "" {
		if in.Selection, err = os.ReadFile(selPath); err != nil {
			return fmt.Errorf("failed to read selection: %w", err)
		}
	}
	in.Entity, _ = flags.GetString("entity")
	in.Where, _ = flags.GetString("where")
	in.JWT, _ = flags.GetString("jwt")
	in.Context, _ = flags.GetString("context")

	decision, err := evaluate(in)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), decision)
	return nil
}

// evaluate runs the delivery decision for in.
func evaluate(in checkInput) (subscription.Decision, error) {
	model, err := schema.Parse(in.Schema)
	if err != nil {
		return subscription.FilteredByWhere, err
	}
	ev, err := types.DecodeChangeEvent(in.Event)
	if err != nil {
		return subscription.FilteredByWhere, err
	}

	entityName := in.Entity
	if entityName == "" {
		if ev.Kind.IsRelationship() {
			return subscription.FilteredByWhere, fmt.Errorf("--entity required for relationship events")
		}
		entityName = ev.Typename
	}
	entity, err := model.Entity(entityName)
	if err != nil {
		return subscription.FilteredByWhere, err
	}

	req := subscription.Request{
		Model:  model,
		Entity: entity,
		Event:  ev,
		Rules:  entity.AuthorizationRules,
	}
	if in.Where != "" {
		if req.Where, err = types.ParseWhere([]byte(in.Where)); err != nil {
			return subscription.FilteredByWhere, err
		}
	}
	if in.JWT != "" || in.Context != "" {
		req.Auth = &authz.Context{}
		if in.JWT != "" {
			if err := decodeObject(in.JWT, &req.Auth.JWT); err != nil {
				return subscription.FilteredByWhere, fmt.Errorf("--jwt: %w", err)
			}
		}
		if in.Context != "" {
			if err := decodeObject(in.Context, &req.Auth.Values); err != nil {
				return subscription.FilteredByWhere, fmt.Errorf("--context: %w", err)
			}
		}
	}
	if len(in.Selection) > 0 {
		if req.Selection, err = selection.Parse(in.Selection); err != nil {
			return subscription.FilteredByWhere, err
		}
	}
	return subscription.ShouldDeliver(req)
}

// decodeObject decodes a JSON object keeping integer precision.
func decodeObject(s string, dest *map[string]any) error {
	w, err := types.ParseWhere([]byte(s))
	if err != nil {
		return err
	}
	*dest = map[string]any(w)
	return nil
}
