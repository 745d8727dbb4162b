package cli

import (
	"github.com/spf13/cobra"

	"pmboard/internal/app"
)

var showOpts app.ShowOptions

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch once and print the board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), showOpts)
	},
}

func init() {
	addViewFlags(showCmd, &showOpts.ViewOptions)
	showCmd.Flags().BoolVar(&showOpts.JSON, "json", false, "Print the dashboard JSON payload instead of a table")
}
