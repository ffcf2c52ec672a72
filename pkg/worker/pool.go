// Package worker executes dispatched actions within a fixed number of slots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/metrics"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/otelhelper"
	"github.com/dukex/orchestron/pkg/registry"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// abortedRetention bounds how long an aborted execution id is remembered.
const abortedRetention = time.Hour

type Config struct {
	Processes         int
	ThreadsPerProcess int
	// QueueWaitTimeout bounds the wait for a slot. Zero waits until the pool stops.
	QueueWaitTimeout       time.Duration
	MaxStreamResultsSizeKB int
}

// Slots is the global bound on concurrently executing actions.
func (c Config) Slots() int {
	return c.Processes * c.ThreadsPerProcess
}

type Pool struct {
	id       string
	config   Config
	registry *registry.Registry
	bus      eventbus.EventBus
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	now      func() time.Time

	slots *semaphore.Weighted
	group errgroup.Group

	mu      sync.Mutex
	running map[string]map[string]context.CancelFunc
	aborted map[string]time.Time
}

type Option func(*Pool)

func WithID(id string) Option {
	return func(p *Pool) {
		p.id = id
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pool) {
		p.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) {
		p.tracer = tracer
	}
}

func NewPool(config Config, reg *registry.Registry, bus eventbus.EventBus, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if config.Slots() <= 0 {
		return nil, fmt.Errorf("invalid worker pool size %d×%d", config.Processes, config.ThreadsPerProcess)
	}

	p := &Pool{
		id:       "worker",
		config:   config,
		registry: reg,
		bus:      bus,
		metrics:  metrics.Nop(),
		tracer:   otelhelper.NoopTracer(),
		now:      time.Now,
		slots:    semaphore.NewWeighted(int64(config.Slots())),
		running:  make(map[string]map[string]context.CancelFunc),
		aborted:  make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = logger.With("module", "worker_pool", "worker_id", p.id)

	return p, nil
}

// Start subscribes to dispatch and control messages.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool", "slots", p.config.Slots())

	err := p.bus.Handle(events.DispatchEvent, p.handleDispatch)
	if err != nil {
		return err
	}

	err = p.bus.Handle(events.ControlEvent, p.handleControl)
	if err != nil {
		return err
	}

	err = p.bus.Subscribe(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	return nil
}

// Wait blocks until every started execution has reported.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// handleDispatch returns only once a slot is held, so the transport keeps
// every waiting dispatch.
func (p *Pool) handleDispatch(ctx context.Context, event any) error {
	dispatch, ok := event.(*events.Dispatch)
	if !ok {
		p.logger.ErrorContext(ctx, "Invalid event type for Dispatch")

		return nil
	}

	logger := p.logger.With(
		"execution_id", dispatch.ExecutionID,
		"action_id", dispatch.ActionID,
		"attempt", dispatch.Attempt,
	)

	if p.isAborted(dispatch.ExecutionID) {
		logger.InfoContext(ctx, "Refusing dispatch of aborted execution")

		return p.publish(ctx, p.result(dispatch, models.ActionAborted, nil, ErrAborted))
	}

	waitCtx := ctx
	if p.config.QueueWaitTimeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, p.config.QueueWaitTimeout)
		defer cancel()
	}

	waitStart := p.now()

	err := p.slots.Acquire(waitCtx, 1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WarnContext(ctx, "Worker pool exhausted", "waited", p.now().Sub(waitStart))

		return p.publish(ctx, p.result(dispatch, models.ActionFailure, nil, ErrPoolExhausted))
	}

	p.metrics.SlotAcquired(p.now().Sub(waitStart))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	key := attemptKey(dispatch)
	p.track(dispatch.ExecutionID, key, cancel)

	p.group.Go(func() error {
		defer func() {
			p.untrack(dispatch.ExecutionID, key)
			cancel()
			p.slots.Release(1)
			p.metrics.SlotReleased()
		}()

		p.execute(runCtx, logger, dispatch)

		return nil
	})

	return nil
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, dispatch *events.Dispatch) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "worker.execute",
		otelhelper.ActionAttributes(dispatch.ExecutionID, dispatch.ActionID, dispatch.Attempt, dispatch.AppName, dispatch.ActionName)...)
	defer span.End()

	publishCtx := context.WithoutCancel(ctx)

	capability, err := p.registry.ResolveKind(dispatch.AppName, dispatch.ActionName, registry.KindAction)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to resolve capability", "error", err)
		p.report(publishCtx, logger, p.result(dispatch, models.ActionFailure, nil, err))

		return
	}

	request := &registry.Request{
		ExecutionID: dispatch.ExecutionID,
		ActionID:    dispatch.ActionID,
		Arguments:   dispatch.Arguments,
		Instance:    dispatch.Instance,
	}

	sequence := 0

	if capability.Streaming {
		request.Emit = func(partial any) error {
			sequence++

			result := p.result(dispatch, models.ActionExecuting, partial, nil)
			result.Partial = true
			result.Sequence = sequence

			return p.publish(publishCtx, result)
		}
	}

	logger.InfoContext(ctx, "Executing action", "app", dispatch.AppName, "action", dispatch.ActionName)

	started := p.now()
	output, err := capability.Action(ctx, request)
	p.metrics.ActionDuration(dispatch.AppName, dispatch.ActionName, p.now().Sub(started))

	var result events.Result

	switch {
	case p.isAborted(dispatch.ExecutionID):
		result = p.result(dispatch, models.ActionAborted, nil, ErrAborted)
	case err != nil:
		otelhelper.SetError(span, err)
		result = p.result(dispatch, models.ActionFailure, nil, err)
	default:
		if output == nil {
			output = &registry.Output{}
		}

		result = p.result(dispatch, models.ActionSuccess, output.Result, nil)
		result.Instance = output.Instance
	}

	result.Sequence = sequence + 1
	otelhelper.SetActionStatus(span, string(result.Status))

	p.metrics.Result(dispatch.AppName, dispatch.ActionName, string(result.Status))
	logger.InfoContext(ctx, "Action finished", "status", result.Status, "truncated", result.Truncated)
	p.report(publishCtx, logger, result)
}

func (p *Pool) handleControl(ctx context.Context, event any) error {
	control, ok := event.(*events.Control)
	if !ok {
		p.logger.ErrorContext(ctx, "Invalid event type for Control")

		return nil
	}

	logger := p.logger.With("execution_id", control.ExecutionID, "command", control.Command)

	switch control.Command {
	case events.CommandAbort:
		cancelled := p.abort(control.ExecutionID)
		logger.InfoContext(ctx, "Execution aborted", "cancelled_actions", cancelled)
	case events.CommandPause, events.CommandResume:
		// pause and resume take effect at the dispatcher's next action boundary
		logger.DebugContext(ctx, "Control command noted")
	default:
		logger.WarnContext(ctx, "Unknown control command")
	}

	return nil
}

// abort cancels in-flight actions of executionID and refuses later dispatches.
func (p *Pool) abort(executionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, at := range p.aborted {
		if now.Sub(at) > abortedRetention {
			delete(p.aborted, id)
		}
	}

	p.aborted[executionID] = now

	cancelled := 0
	for _, cancel := range p.running[executionID] {
		cancel()
		cancelled++
	}

	return cancelled
}

func (p *Pool) isAborted(executionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, aborted := p.aborted[executionID]

	return aborted
}

func (p *Pool) track(executionID, key string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running[executionID] == nil {
		p.running[executionID] = make(map[string]context.CancelFunc)
	}

	p.running[executionID][key] = cancel
}

func (p *Pool) untrack(executionID, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.running[executionID], key)

	if len(p.running[executionID]) == 0 {
		delete(p.running, executionID)
	}
}

func (p *Pool) result(dispatch *events.Dispatch, status models.ActionState, payload any, err error) events.Result {
	result := events.Result{
		BaseEvent: events.NewBaseEvent(events.ResultEvent, dispatch.ExecutionID),
		ActionID:  dispatch.ActionID,
		Attempt:   dispatch.Attempt,
		Status:    status,
		Payload:   payload,
	}

	if err != nil {
		result.Error = err.Error()
		if payload == nil {
			result.Payload = err.Error()
		}
	}

	result.Payload, result.Truncated = truncate(result.Payload, p.config.MaxStreamResultsSizeKB*1024)

	return result
}

func (p *Pool) publish(ctx context.Context, result events.Result) error {
	err := p.bus.Publish(ctx, result.ExecutionID, result)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	return nil
}

func (p *Pool) report(ctx context.Context, logger *slog.Logger, result events.Result) {
	err := p.publish(ctx, result)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Failed to publish action result", "error", err)
	}
}

func attemptKey(dispatch *events.Dispatch) string {
	return fmt.Sprintf("%s@%d", dispatch.ActionID, dispatch.Attempt)
}
