package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/scheduler"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := setup(cfgFile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	return executeWatch(cmd.Context(), cfg, logger)
}

// executeWatch runs the probe on the configured schedule until ctx is done.
func executeWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := scheduler.New(cfg.Watch.Schedule, func(ctx context.Context) error {
		return executeRun(ctx, cfg, logger)
	}, logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	logger.Info("watching", "schedule", cfg.Watch.Schedule)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("notifying systemd", "error", err)
	} else if ok {
		logger.Debug("systemd notified")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Warn("notifying systemd", "error", err)
	}
	sched.Wait()

	logger.Info("shutdown complete")
	return nil
}
