package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pmboard/internal/app"
	"pmboard/internal/config"
	"pmboard/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "pmboard",
	Short:         "Live prediction-market board for the terminal and the browser",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// addViewFlags registers the presentation flags shared by show, watch and export.
func addViewFlags(cmd *cobra.Command, opts *app.ViewOptions) {
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Number of events to display (defaults to config)")
	cmd.Flags().IntVar(&opts.Contenders, "contenders", 0, "Contenders per event (defaults to config)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "volume", "Row order: volume, volume24h or title")
	cmd.Flags().StringVar(&opts.Search, "search", "", "Only events whose title or contenders contain this text")
}
