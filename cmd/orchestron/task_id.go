package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/orchestron/pkg/scheduler"
	"github.com/urfave/cli/v3"
)

func TaskIDCommand() *cli.Command {
	return &cli.Command{
		Name:  "task-id",
		Usage: "Build and split scheduler task ids",
		Commands: []*cli.Command{
			{
				Name:      "construct",
				Usage:     "Join a task name and a workflow id",
				ArgsUsage: "<task-name> <workflow-id>",
				Action: func(_ context.Context, command *cli.Command) error {
					if command.Args().Len() != 2 {
						return errors.New("expected a task name and a workflow id")
					}

					fmt.Fprintln(command.Root().Writer, scheduler.ConstructTaskID(command.Args().Get(0), command.Args().Get(1)))

					return nil
				},
			},
			{
				Name:      "split",
				Usage:     "Split a task id into task name and workflow id",
				ArgsUsage: "<task-id>",
				Action: func(_ context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return errors.New("expected a task id")
					}

					fmt.Fprintln(command.Root().Writer, strings.Join(scheduler.SplitTaskID(command.Args().First()), " "))

					return nil
				},
			},
		},
	}
}
