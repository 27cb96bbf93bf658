package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hazz-dev/slotprobe/internal/browser"
	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/evidence"
	"github.com/hazz-dev/slotprobe/internal/logging"
	"github.com/hazz-dev/slotprobe/internal/notify"
	"github.com/hazz-dev/slotprobe/internal/probe"
	"github.com/hazz-dev/slotprobe/internal/runner"
)

// newLauncher is replaced in tests.
var newLauncher = browser.NewChrome

// setup loads the config file and builds the process logger.
func setup(path string, console io.Writer) (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, closeLog, err := logging.Setup(cfg.Log, console)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, logger, closeLog, nil
}

// buildRunner wires one run. Every run gets its own id on all log records.
func buildRunner(cfg *config.Config, base *slog.Logger) (*runner.Runner, error) {
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("run_id", uuid.NewString())

	n, err := notify.New(cfg.Notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("building notifier: %w", err)
	}

	launch := newLauncher(browser.Options{
		ExecPath:     cfg.Browser.ExecPath,
		Headless:     cfg.Browser.Headless,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		UserAgent:    cfg.Browser.UserAgent,
		Logger:       logger.With("component", "browser"),
	})
	store := evidence.Store{Path: cfg.Evidence.Path}
	p := probe.New(cfg.Target.URL, launch, store, probe.PolicyFromConfig(cfg.Probe), logger)

	return runner.New(p, n, cfg.Probe.RunTimeout.Duration, logger), nil
}

// executeRun builds and performs a single run.
func executeRun(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	r, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}
