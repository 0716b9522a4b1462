package app

import (
	"context"
	"fmt"

	"github.com/vk/reqrelay/internal/ctxlog"
	"github.com/vk/reqrelay/internal/hclgrid"
	"github.com/vk/reqrelay/internal/session"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if cfg.HealthcheckPort > 0 {
		a.startHealthcheckServer(cfg.HealthcheckPort)
	}

	grid, err := hclgrid.Load(ctx, cfg.GridPath)
	if err != nil {
		return fmt.Errorf("failed to load grid: %w", err)
	}
	a.logger.Debug("Grid loaded.", "requests", len(grid.Requests))

	sess, err := session.New(grid, a.registry)
	if err != nil {
		return fmt.Errorf("failed to prepare session: %w", err)
	}

	a.logger.Info("Starting request execution...", "requests", len(grid.Requests))
	reports, err := sess.Run(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	failed := 0
	for _, report := range reports {
		logger := a.logger.With("request", report.Request, "trace", report.Trace)
		switch {
		case report.Err != nil:
			failed++
			logger.Error("Request failed.", "error", report.Err)
		case !report.Outcome.OK:
			failed++
			logger.Error("Request completed with a failing outcome.", "status", report.Outcome.Status, "reason", report.Outcome.Reason)
		default:
			logger.Info("Request succeeded.", "status", report.Outcome.Status, "depends_on", dependencyNames(report))
		}
	}
	a.logger.Info("Execution finished.", "requests", len(reports), "failed", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(reports))
	}
	return nil
}

func dependencyNames(report session.Report) []string {
	names := make([]string, 0, len(report.Depends))
	for _, dep := range report.Depends {
		names = append(names, dep.Request)
	}
	return names
}
