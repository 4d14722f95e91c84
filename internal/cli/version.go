package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

// NewVersionCommand печатает сведения о сборке.
func NewVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(version.Current())
			}
			build := version.Current()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ordersync %s (commit %s, built %s, %s)\n",
				build.Version, build.Commit, build.Date, build.GoVersion)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
