package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neo4j/graphql-sub030/internal/source"
	"github.com/neo4j/graphql-sub030/internal/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with captured change events",
}

var eventsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish newline-delimited change events to the NATS source subject",
	RunE:  runEventsPublish,
}

func init() {
	eventsPublishCmd.Flags().String("file", "-", "newline-delimited JSON events, - for stdin")
	eventsCmd.AddCommand(eventsPublishCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if path, _ := cmd.Flags().GetString("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	pub, err := source.NewPublisher(source.NATSConfig{
		URL:           cfg.Source.NATS.URL,
		Subject:       cfg.Source.NATS.Subject,
		MaxReconnect:  cfg.Source.NATS.MaxReconnect,
		ReconnectWait: cfg.Source.NATS.ReconnectWait,
	}, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	published, line := 0, 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		// Reject what the service would skip.
		if _, err := types.DecodeChangeEvent(data); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := pub.Publish(data); err != nil {
			return err
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) published to %s\n", published, cfg.Source.NATS.Subject)
	return nil
}
