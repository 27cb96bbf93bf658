package main

import (
	"github.com/spf13/cobra"
)

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := setup(cfgFile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("config loaded", "target", cfg.Target.URL, "notifier", cfg.Notifier.Type)
	return executeRun(cmd.Context(), cfg, logger)
}
