package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/orchestron/pkg/cmd"
	"github.com/dukex/orchestron/pkg/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the controller, a worker pool and the HTTP API",
		Flags:   cmd.ConfigFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := cmd.LoadConfig(command)
			if err != nil {
				return err
			}

			logger := log.Setup(cfg.LogLevel, cfg.LogFormat).With("module", "orchestron")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Orchestron", "event_bus", cfg.EventBus)

			services, err := cmd.NewServices(ctx, cfg, logger, "orchestron")
			if err != nil {
				return err
			}

			defer func() {
				err := services.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close services", "error", err)
				}
			}()

			pool, err := services.StartWorkers(ctx, "worker-"+uuid.New().String()[:8])
			if err != nil {
				return err
			}

			stack, err := services.StartController(ctx)
			if err != nil {
				return err
			}

			serveErr := cmd.Serve(ctx, services.NewApp(stack), cfg.HTTP.Address, logger)

			logger.InfoContext(ctx, "Shutting down...")
			stop()

			err = stack.Stop(context.WithoutCancel(ctx))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to stop controller", "error", err)
			}

			err = pool.Wait()
			if err != nil {
				logger.ErrorContext(ctx, "Worker pool stopped with error", "error", err)
			}

			return serveErr
		},
	}
}
