package cli

import (
	"github.com/spf13/cobra"

	"pmboard/internal/app"
)

var watchOpts app.WatchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal board, redrawn every refresh interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), watchOpts)
	},
}

func init() {
	addViewFlags(watchCmd, &watchOpts.ViewOptions)
	watchCmd.Flags().DurationVar(&watchOpts.Interval, "interval", 0, "Redraw interval (defaults to the cache TTL)")
}
