package cli

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewDaemonCommand создаёт команду запуска планировщика.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled syncs with admin HTTP and gRPC health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("run-on-start") {
				cfg.Schedule.RunOnStart = runOnStart
			}

			log.WithFields(log.Fields{
				"grpc_addr":    cfg.GRPCAddr,
				"metrics_addr": cfg.MetricsAddr,
				"storage":      cfg.Storage.Driver,
			}).Info("запускаем ordersync daemon")

			err = runDaemon(commandContext(cmd), cfg)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("ordersync daemon остановлен")
			return nil
		},
	}

	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run rolling then last50 right after start")
	return cmd
}
