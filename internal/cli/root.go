// Package cli wires configuration, stores, and the pipeline into the
// covid-etl command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the covid-etl root command. Invoked without a
// subcommand it behaves like "run".
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "covid-etl",
		Short: "Reshape CSSE COVID-19 time series into per-region JSON documents",
		Long: `covid-etl downloads the Johns Hopkins CSSE time-series CSVs, reshapes each
region's wide row into a dated series, optionally joins confirmed, deaths,
recovered and the country lookup table, and stores one JSON document per
region.

Configuration comes from environment variables (and an optional .env file).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd)
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewInspectCommand())

	return cmd
}
