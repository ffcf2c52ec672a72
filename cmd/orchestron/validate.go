package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/orchestron/pkg/cmd"
	"github.com/dukex/orchestron/pkg/conditional"
	"github.com/dukex/orchestron/pkg/log"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("one or more workflows are invalid")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate workflow files (JSON or YAML) against the registered apps",
		ArgsUsage: "<workflow-file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing app plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			files := command.Args().Slice()
			if len(files) == 0 {
				return errors.New("at least one workflow file is required")
			}

			logger := log.New(command.Root().ErrWriter, "warn", "text")

			reg, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			validator := workflow.NewValidator(reg, conditional.NewEvaluator(reg, logger))
			invalid := 0

			for _, file := range files {
				wf, err := workflow.LoadFile(file)
				if err != nil {
					return err
				}

				err = validator.Validate(wf)
				if err != nil {
					invalid++

					fmt.Fprintf(command.Root().Writer, "%s: invalid\n", file)

					for _, problem := range wf.Errors {
						fmt.Fprintf(command.Root().Writer, "  - %s\n", problem)
					}

					continue
				}

				fmt.Fprintf(command.Root().Writer, "%s: valid\n", file)
			}

			if invalid > 0 {
				return ErrInvalidWorkflows
			}

			return nil
		},
	}
}
