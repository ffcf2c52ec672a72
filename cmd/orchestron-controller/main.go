// Package main provides the controller binary: scheduler, dispatcher, trigger
// gate and HTTP API. Actions run on separate orchestron-worker processes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/orchestron/pkg/cmd"
	"github.com/dukex/orchestron/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "orchestron-controller",
		Usage:                 "Schedule and dispatch workflow executions",
		EnableShellCompletion: true,
		Flags:                 cmd.ConfigFlags(),
		Action:                run,
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("orchestron-controller").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cfg, err := cmd.LoadConfig(command)
	if err != nil {
		return err
	}

	logger := log.Setup(cfg.LogLevel, cfg.LogFormat).With("module", "orchestron-controller")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Orchestron controller", "event_bus", cfg.EventBus)

	services, err := cmd.NewServices(ctx, cfg, logger, "orchestron-controller")
	if err != nil {
		return err
	}

	defer func() {
		err := services.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close services", "error", err)
		}
	}()

	stack, err := services.StartController(ctx)
	if err != nil {
		return err
	}

	serveErr := cmd.Serve(ctx, services.NewApp(stack), cfg.HTTP.Address, logger)

	logger.InfoContext(ctx, "Shutting down controller...")
	stop()

	err = stack.Stop(context.WithoutCancel(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to stop controller", "error", err)
	}

	return serveErr
}
