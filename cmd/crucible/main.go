package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	crucible "github.com/crucible-ci/crucible"
	"github.com/crucible-ci/crucible/exitcodes"
	"github.com/crucible-ci/crucible/flags"
	"github.com/crucible-ci/crucible/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "crucible"
	app.Usage = "Cargo workspace test harness"
	app.Description = "crucible builds a cargo workspace and runs its tests with retries, rounds and coverage"
	app.ArgsUsage = "[crate:target glob...]"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if crucible.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if crucible.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Start telemetry
	shutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context) error {
	level := slog.LevelInfo
	if ctx.Bool(flags.Verbose.Name) {
		level = slog.LevelDebug
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true))
	log.SetDefault(logger)

	cfg, err := crucible.NewConfig(ctx, logger)
	if err != nil {
		return crucible.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	harness, err := crucible.New(cfg, Version)
	if err != nil {
		return crucible.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}

	var monitor *service.Monitor
	if cfg.Monitoring {
		monitor = service.NewMonitor(logger, harness.RunID())
		monitor.Start(service.DefaultAddr)
	}

	runErr := harness.Run(ctx.Context)
	if monitor != nil {
		monitor.SetStatus(runStatus(runErr))
		if err := monitor.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to stop monitoring server", "err", err)
		}
	}
	return runErr
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return service.StatusPassed
	case crucible.IsTestFailureError(err):
		return service.StatusFailed
	default:
		return service.StatusError
	}
}
