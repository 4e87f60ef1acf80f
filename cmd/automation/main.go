// Package main provides the automation command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/cmd"
	"github.com/leadpilot/automation/pkg/log"
	"github.com/leadpilot/automation/pkg/registry"
	"github.com/leadpilot/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := newApp(os.Stdout).Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:                  "automation",
		Usage:                 "Inspect and validate lead workflow definitions",
		EnableShellCompletion: true,
		Writer:                out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			validateCommand(),
			nodesCommand(),
		},
	}
}

func newRegistry() *registry.Registry {
	return cmd.NewRegistry(log.WithModule("automation"), nil, clockwork.NewRealClock())
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate a workflow definition file (JSON or YAML)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the definition file",
				Required: true,
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.String("file")

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			nodes := newRegistry()

			var def *workflow.Definition

			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
				def, err = workflow.LoadYAML(data, nodes)
			default:
				def, err = workflow.LoadJSON(data, nodes)
			}

			if err != nil {
				return fmt.Errorf("%s is invalid: %w", path, err)
			}

			out := command.Root().Writer
			fmt.Fprintf(out, "%s is valid (entry node %s)\n", path, def.EntryNodeID)

			for _, warning := range def.Warnings {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}

			return nil
		},
	}
}

func nodesCommand() *cli.Command {
	return &cli.Command{
		Name:  "nodes",
		Usage: "List the registered node types",
		Action: func(_ context.Context, command *cli.Command) error {
			out := command.Root().Writer

			for _, factory := range newRegistry().Factories() {
				fmt.Fprintf(out, "%-14s %s\n", factory.ID(), factory.Description())
			}

			return nil
		},
	}
}
