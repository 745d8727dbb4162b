package cli

import (
	"github.com/spf13/cobra"

	"pmboard/internal/app"
)

var exportOpts app.ExportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the board, or an event's archived history, as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), exportOpts)
	},
}

func init() {
	addViewFlags(exportCmd, &exportOpts.ViewOptions)
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportOpts.EventID, "event", "", "Export this event's archived history instead of the live board")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum archived points to export with --event")
}
