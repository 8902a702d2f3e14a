package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}, cmd.CommonFlags()...)

	command := &cli.Command{
		Name:                  "crmflow-api",
		Usage:                 "Create, publish and run CRM workflows",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing CRM workflow API")

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "crmflow-api")
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			registry, err := cmd.NewRegistry(logger, cmd.NewCollaborators(command.String("crm-url"), logger))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			timer, closeTimer, err := cmd.NewTimer(ctx, command.String("redis-url"), persistence, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := closeTimer(); err != nil {
					logger.ErrorContext(ctx, "Failed to close wakeup timer", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, registry, timer, tracer)

			err = api.Start(ctx, int(command.Int("port")))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := command.Run(ctx, os.Args)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
