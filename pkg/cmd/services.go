package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orchestron/pkg/conditional"
	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/dispatcher"
	"github.com/dukex/orchestron/pkg/gate"
	"github.com/dukex/orchestron/pkg/metrics"
	"github.com/dukex/orchestron/pkg/otelhelper"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/dukex/orchestron/pkg/scheduler"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/dukex/orchestron/pkg/web"
	"github.com/dukex/orchestron/pkg/worker"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 10 * time.Second

// Services holds what every binary opens from the configuration.
type Services struct {
	Config    config.Config
	Logger    *slog.Logger
	Registry  *registry.Registry
	Transport *Transport
	Metrics   *metrics.Collector
	Gatherer  *prometheus.Registry
	Tracer    trace.Tracer

	shutdownTracer otelhelper.Shutdown
}

func NewServices(ctx context.Context, cfg config.Config, logger *slog.Logger, serviceName string) (*Services, error) {
	reg, err := NewRegistry(logger, cfg.PluginsPath)
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName, cfg.Tracing.Enabled)
	if err != nil {
		_ = transport.Close()

		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Services{
		Config:         cfg,
		Logger:         logger,
		Registry:       reg,
		Transport:      transport,
		Metrics:        metrics.NewCollector(gatherer),
		Gatherer:       gatherer,
		Tracer:         tracer,
		shutdownTracer: shutdown,
	}, nil
}

func (s *Services) Close(ctx context.Context) error {
	return errors.Join(s.Transport.Close(), s.shutdownTracer(ctx))
}

// StartWorkers starts a worker pool on its own bus.
func (s *Services) StartWorkers(ctx context.Context, workerID string) (*worker.Pool, error) {
	workers := s.Config.Workers

	pool, err := worker.NewPool(
		worker.Config{
			Processes:              workers.Processes,
			ThreadsPerProcess:      workers.ThreadsPerProcess,
			QueueWaitTimeout:       workers.QueueWaitTimeout,
			MaxStreamResultsSizeKB: workers.MaxStreamResultsSizeKB,
		},
		s.Registry,
		s.Transport.NewEventBus(s.Logger),
		s.Logger,
		worker.WithID(workerID),
		worker.WithMetrics(s.Metrics),
		worker.WithTracer(s.Tracer),
	)
	if err != nil {
		return nil, err
	}

	err = pool.Start(ctx)
	if err != nil {
		return nil, err
	}

	return pool, nil
}

// ControllerStack is the control side of the engine: the dispatcher, its
// stores and the scheduler feeding it.
type ControllerStack struct {
	Persistence persistence.Persistence
	Tracker     *status.Tracker
	Workflows   *workflow.Repository
	Gate        *gate.Gate
	Controller  *dispatcher.Controller
	Scheduler   *scheduler.Scheduler
}

// StartController opens persistence, starts the controller and schedules every
// configured workflow.
func (s *Services) StartController(ctx context.Context) (*ControllerStack, error) {
	p, err := NewPersistence(ctx, s.Logger, s.Config.DatabaseURL, s.Config.CheckpointURL)
	if err != nil {
		return nil, err
	}

	bus := s.Transport.NewEventBus(s.Logger)
	tracker := status.NewTracker(p.StatusRepository(), s.Logger,
		status.WithListener(dispatcher.StatusPublisher(bus, s.Metrics, s.Logger)))
	g := gate.New(s.Logger)

	controller := dispatcher.NewController(s.Config.Dispatcher, p, tracker, s.Registry, bus, g, s.Logger,
		dispatcher.WithMetrics(s.Metrics),
		dispatcher.WithTracer(s.Tracer),
	)

	err = controller.Start(ctx)
	if err != nil {
		_ = p.Close(ctx)

		return nil, err
	}

	loc, err := s.Config.Scheduler.TimeZone()
	if err != nil {
		_ = p.Close(ctx)

		return nil, err
	}

	sched := scheduler.New(controller.OnActivation, s.Logger, scheduler.WithLocation(loc))

	taskIDs, err := ScheduleWorkflows(sched, s.Config.Scheduler)
	if err != nil {
		_ = p.Close(ctx)

		return nil, err
	}

	sched.Start(ctx)
	s.Logger.InfoContext(ctx, "Scheduler started", "tasks", len(taskIDs))

	wfValidator := workflow.NewValidator(s.Registry, conditional.NewEvaluator(s.Registry, s.Logger))

	return &ControllerStack{
		Persistence: p,
		Tracker:     tracker,
		Workflows:   workflow.NewRepository(p, wfValidator),
		Gate:        g,
		Controller:  controller,
		Scheduler:   sched,
	}, nil
}

// Stop stops the scheduler, waits for live runs and closes persistence.
func (c *ControllerStack) Stop(ctx context.Context) error {
	c.Scheduler.Stop()
	c.Controller.Wait()

	return c.Persistence.Close(ctx)
}

func (s *Services) NewApp(stack *ControllerStack) *fiber.App {
	handlers := web.NewAPIHandlers(
		stack.Workflows,
		stack.Tracker,
		stack.Controller,
		validator.New(validator.WithRequiredStructEnabled()),
		s.Registry,
	)

	return web.NewApp(handlers, s.Gatherer)
}

// Serve listens on address until ctx is done.
func Serve(ctx context.Context, app *fiber.App, address string, logger *slog.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "HTTP API listening", "address", address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}
