package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/config"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/logging"
)

// app carries what PersistentPreRunE loads for every subcommand.
type app struct {
	cfgFile  string
	logLevel string
	cfg      config.Config
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:           "querylight",
		Short:         "querylight - tokenize, parse and highlight boolean search queries",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides log.level")

	rootCmd.AddCommand(
		newServeCmd(a),
		newTokenizeCmd(a),
		newParseCmd(a),
		newHighlightCmd(a),
		newCheckCmd(a),
		newWatchCmd(a),
		newTokenCmd(a),
		newInitCmd(a),
	)
	return rootCmd
}
