package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersync/internal/app"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Точки входа приложения; подменяются в тестах.
var (
	runOnce   = app.RunOnce
	runDaemon = app.RunDaemon
)

// RootOptions — глобальные флаги.
type RootOptions struct {
	EnvFiles  []string
	LogLevel  string
	LogFormat string
}

// NewRootCommand создаёт корневую команду ordersync.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ordersync",
		Short: "Magento order synchronization",
		Long: `ordersync keeps a local order store consistent with a Magento shop.

Modes:
  windowed  list orders by date windows with optional filters
  rolling   rescan every order id updated in the last 3 days
  last50    rescan the 50 most recent order ids`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format override (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewDLQReplayCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig читает конфигурацию и применяет флаги логирования.
func (o *RootOptions) loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig(o.EnvFiles...)
	if err != nil {
		return app.Config{}, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if err := app.ConfigureLogging(cfg); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printSummary выводит итог прогона в текстовом виде.
func printSummary(w io.Writer, s domain.RunSummary) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Mode)
	fmt.Fprintf(w, "  duration:        %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  total:           %d\n", s.Total)
	fmt.Fprintf(w, "  processed:       %d\n", s.Processed)
	fmt.Fprintf(w, "  created:         %d\n", s.Created)
	fmt.Fprintf(w, "  updated:         %d\n", s.Updated)
	fmt.Fprintf(w, "  status changed:  %d\n", s.StatusChanged)
	fmt.Fprintf(w, "  details fetched: %d\n", s.DetailsFetched)
	fmt.Fprintf(w, "  skipped:         %d\n", s.Skipped)
	fmt.Fprintf(w, "  errors:          %d\n", s.ErrorCount())
	for _, e := range s.Errors {
		fmt.Fprintf(w, "    - %s\n", e)
	}
}

