package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "crmflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run and check published CRM workflows",
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := command.Run(ctx, os.Args)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
