package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
)

func invalidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Announce that a data source changed so cached results are dropped",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			reason, _ := cmd.Flags().GetString("reason")

			e := redpanda.NewSourceChangedEvent(source, reason)
			if _, err := e.Prefixes(); err != nil {
				return err
			}
			if !a.cfg.HasKafka() {
				return fmt.Errorf("KAFKA_BROKERS is required")
			}

			pcfg := redpanda.DefaultProducerConfig()
			pcfg.Brokers = a.cfg.KafkaBrokers
			producer, err := redpanda.NewProducer(pcfg, a.logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			if err := producer.PublishSourceChanged(cmd.Context(), e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s change %s\n", e.Source, e.ID)
			return nil
		},
	}
	cmd.Flags().String("source", redpanda.SourceAll, "Changed source: facts, files, lookup or all")
	cmd.Flags().String("reason", "", "Free-text reason recorded with the event")
	return cmd
}
