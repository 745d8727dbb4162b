package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pmboard/internal/app"
)

var historyOpts app.HistoryOptions

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display archived snapshots, an event's archived rows, or mover alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyOpts.Limit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if historyOpts.Alerts && historyOpts.EventID != "" {
			return fmt.Errorf("--alerts and --event cannot be combined")
		}
		return getApp().History(cmd.Context(), historyOpts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyOpts.Limit, "limit", 20, "Number of rows to display")
	historyCmd.Flags().StringVar(&historyOpts.EventID, "event", "", "Show archived rows for one event id")
	historyCmd.Flags().BoolVar(&historyOpts.Alerts, "alerts", false, "Show recorded mover alerts")
}
