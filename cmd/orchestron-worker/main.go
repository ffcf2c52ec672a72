// Package main provides the worker binary executing dispatched actions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/orchestron/pkg/cmd"
	"github.com/dukex/orchestron/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "orchestron-worker",
		Usage:                 "Start workers to execute workflow actions",
		EnableShellCompletion: true,
		Flags: append(cmd.ConfigFlags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "processes",
				Usage:   "Number of worker processes",
				Sources: cli.EnvVars("WORKER_PROCESSES"),
			},
			&cli.IntFlag{
				Name:    "threads-per-process",
				Usage:   "Number of concurrent actions per worker process",
				Sources: cli.EnvVars("WORKER_THREADS_PER_PROCESS"),
			},
		),
		Action: run,
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("orchestron-worker").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cfg, err := cmd.LoadConfig(command)
	if err != nil {
		return err
	}

	if command.IsSet("processes") {
		cfg.Workers.Processes = int(command.Int("processes"))
	}

	if command.IsSet("threads-per-process") {
		cfg.Workers.ThreadsPerProcess = int(command.Int("threads-per-process"))
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.Setup(cfg.LogLevel, cfg.LogFormat).With("module", "orchestron-worker", "worker_id", workerID)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Orchestron worker", "slots", cfg.Workers.Slots())

	services, err := cmd.NewServices(ctx, cfg, logger, "orchestron-worker")
	if err != nil {
		return err
	}

	defer func() {
		err := services.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close services", "error", err)
		}
	}()

	pool, err := services.StartWorkers(ctx, workerID)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down worker...")

	return pool.Wait()
}
