package main

import (
	"context"
	"os"

	"github.com/leadpilot/automation/pkg/cmd"
	"github.com/leadpilot/automation/pkg/log"
	"github.com/leadpilot/automation/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "automation-api"
)

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}
	flags = append(flags, cmd.BackendFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Manage lead workflows and their runs over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing automation API")

			shutdown, err := otelhelper.Setup(ctx, serviceName)
			if err != nil {
				return err
			}

			defer func() {
				err := shutdown(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer provider", "error", err)
				}
			}()

			engineConfig, err := cmd.EngineConfig(command)
			if err != nil {
				return err
			}

			stack, err := cmd.NewStack(ctx, cmd.StackConfigFrom(command, serviceName, engineConfig), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := stack.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close backends", "error", err)
				}
			}()

			return NewAPI(logger, stack).Start(ctx, command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("API stopped", "error", err)
		os.Exit(1)
	}
}
