package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/config"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check the engine config and the current graph of every workflow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "engine-config",
				Usage:   "YAML file tuning workers, leases, timeouts and retries",
				Sources: cli.EnvVars("ENGINE_CONFIG"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "crmflow-worker",
				"action", "validate",
			)

			if _, err := config.LoadEngine(command.String("engine-config")); err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				_ = persistence.Close(ctx)
			}()

			// Configs are only checked, nothing is ever sent.
			registry, err := cmd.NewRegistry(logger, collaborators.NewSet(collaborators.NewRecorder()))
			if err != nil {
				return err
			}

			return validateWorkflows(ctx, os.Stdout, services.NewWorkflow(persistence), registry)
		},
	}
}

func validateWorkflows(ctx context.Context, out io.Writer, workflows *services.Workflow, validator workflow.ConfigValidator) error {
	_, _ = fmt.Fprintln(out, "Workflow Validation Results:")
	_, _ = fmt.Fprintln(out, "============================")

	valid, invalid := 0, 0

	for offset := 0; ; {
		page, err := workflows.ListWorkflows(ctx, services.ListWorkflowsRequest{Limit: 100, Offset: offset})
		if err != nil {
			return fmt.Errorf("failed to fetch workflows: %w", err)
		}

		for _, summary := range page.Workflows {
			wf, err := workflows.FetchByID(ctx, summary.ID)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(out, "\nWorkflow: %s (%s)\n", wf.Name, wf.ID)

			var validationErr *workflow.ValidationError

			err = workflow.Validate(wf.Graph(), validator)

			switch {
			case err == nil:
				valid++

				_, _ = fmt.Fprintln(out, "    VALID")
			case errors.As(err, &validationErr):
				invalid++

				for _, issue := range validationErr.Issues {
					_, _ = fmt.Fprintf(out, "    INVALID [%s] %s\n", issue.Code, issue.Message)
				}
			default:
				return err
			}
		}

		if !page.HasNextPage {
			break
		}

		offset += len(page.Workflows)
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Valid workflows: %d\n", valid)
	_, _ = fmt.Fprintf(out, "  Invalid workflows: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkflows, invalid)
	}

	return nil
}
