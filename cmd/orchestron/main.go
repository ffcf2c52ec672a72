// Package main provides the all-in-one Orchestron binary: controller, workers
// and HTTP API in one process.
package main

import (
	"context"
	"os"

	"github.com/dukex/orchestron/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "orchestron",
		Usage:                 "Run and inspect workflow executions",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			ValidateCommand(),
			TaskIDCommand(),
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("orchestron").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
