// Package main provides the CRM workflow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	timer       delay.Timer
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	timer delay.Timer,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		timer:       timer,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	// Only cancellations go through the delay manager here, firing is the worker's job.
	wakeups := delay.NewManager(a.persistence, a.timer, nil, delay.DefaultConfig(), clockwork.NewRealClock(), a.logger)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence),
		services.NewNode(a.persistence, a.registry),
		services.NewConnection(a.persistence),
		services.NewPublishing(a.persistence, a.registry),
		services.NewExecution(a.persistence, a.logger, services.WithWakeupCanceller(wakeups)),
		a.validate,
		a.registry,
	)

	return web.NewApp(handlers, a.tracer)
}

// Start serves on port until ctx is done, then shuts the server down.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-ctx.Done()

		a.logger.Info("Shutting down API server")

		return app.Shutdown()
	})

	return g.Wait()
}
