package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enermesh/telemetrix/app"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List supported device vendors and models",
	RunE:  runVendors,
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
}

func runVendors(cmd *cobra.Command, args []string) error {
	reg, err := app.NewRegistry()
	if err != nil {
		return err
	}
	for _, vendor := range reg.ListVendors() {
		for _, m := range reg.ListModels(vendor) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", vendor, m)
		}
	}
	return nil
}
