package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
)

// NewDLQReplayCommand создаёт команду повторной публикации из dead letter topic.
func NewDLQReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		brokers []string
		replay  kafka.ReplayConfig
	)

	cmd := &cobra.Command{
		Use:   "dlq-replay",
		Short: "Republish sync events from the dead letter topic",
		Long: `Scan the dead letter topic and republish each event to the topic it failed on.

Without --execute the command only lists replay candidates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			replay.Brokers = cfg.Kafka.Brokers
			if len(brokers) > 0 {
				replay.Brokers = brokers
			}
			replay.Topics = cfg.Kafka.Topics

			replayer, err := kafka.NewReplayer(replay)
			if err != nil {
				return err
			}
			defer func() { _ = replayer.Close() }()

			stats, err := replayer.Replay(commandContext(cmd))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "processed=%d replayed=%d skipped=%d\n", stats.Processed, stats.Replayed, stats.Skipped)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "kafka brokers (default from KAFKA_BROKERS)")
	cmd.Flags().IntVar(&replay.Limit, "limit", 100, "max number of messages to scan")
	cmd.Flags().BoolVar(&replay.Execute, "execute", false, "republish messages; default is dry-run")
	cmd.Flags().BoolVar(&replay.FromNewest, "from-newest", false, "scan the latest messages first")
	cmd.Flags().DurationVar(&replay.IdleTimeout, "idle-timeout", 2*time.Second, "idle timeout per partition")
	return cmd
}
