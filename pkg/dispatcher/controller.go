package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/orchestron/pkg/conditional"
	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/expression"
	"github.com/dukex/orchestron/pkg/gate"
	"github.com/dukex/orchestron/pkg/metrics"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/otelhelper"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/dukex/orchestron/pkg/scheduler"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Controller owns every live run. It starts runs, routes results and control
// commands to them, and handles runs parked by a pause or a trigger gate.
type Controller struct {
	options     config.DispatcherConfig
	workflows   persistence.WorkflowRepository
	checkpoints persistence.CheckpointRepository
	tracker     *status.Tracker
	registry    *registry.Registry
	evaluator   *conditional.Evaluator
	validator   *workflow.Validator
	bus         eventbus.EventBus
	gate        *gate.Gate
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      *slog.Logger

	// mu guards runs and serializes every operation on parked runs.
	mu   sync.Mutex
	ctx  context.Context
	runs map[string]*Dispatcher
	wg   sync.WaitGroup
}

type Option func(*Controller)

func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Controller) {
		c.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

func NewController(
	options config.DispatcherConfig,
	p persistence.Persistence,
	tracker *status.Tracker,
	reg *registry.Registry,
	bus eventbus.EventBus,
	g *gate.Gate,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	if options.MaxSteps <= 0 {
		options.MaxSteps = config.Default().Dispatcher.MaxSteps
	}

	evaluator := conditional.NewEvaluator(reg, logger)

	c := &Controller{
		options:     options,
		workflows:   p.WorkflowRepository(),
		checkpoints: p.CheckpointRepository(),
		tracker:     tracker,
		registry:    reg,
		evaluator:   evaluator,
		validator:   workflow.NewValidator(reg, evaluator),
		bus:         bus,
		gate:        g,
		metrics:     metrics.Nop(),
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "dispatcher"),
		runs:        make(map[string]*Dispatcher),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start re-registers the trigger gates of runs parked before a restart and
// subscribes to results. Runs live until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	err := c.restoreGates(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	err = c.bus.Handle(events.ResultEvent, c.handleResult)
	if err != nil {
		return err
	}

	err = c.bus.Subscribe(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	c.logger.InfoContext(ctx, "Controller started", "branch_policy", c.options.BranchPolicy, "max_steps", c.options.MaxSteps)

	return nil
}

// Wait blocks until every live run has left its goroutine.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Running lists the execution ids with a live run.
func (c *Controller) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.runs))
	for id := range c.runs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Execute starts a run of workflowID. Workflows failing validation are refused
// before any status is recorded.
func (c *Controller) Execute(ctx context.Context, workflowID string) (*models.WorkflowStatus, error) {
	runCtx := c.runContext()
	if runCtx == nil {
		return nil, ErrControllerStopped
	}

	wf, err := c.workflows.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = c.validator.Validate(wf)
	if err != nil {
		c.logger.WarnContext(ctx, "Refusing to run invalid workflow", "workflow_id", workflowID, "error", err)

		return nil, err
	}

	executionID := uuid.New().String()

	_, err = c.tracker.CreateWorkflow(ctx, executionID, wf)
	if err != nil {
		return nil, err
	}

	d := c.newDispatcher(executionID, wf)
	d.frontier = []string{wf.Start}

	// The run is live before it is reported running, so a concurrent Abort
	// either finds it pending or reaches its inbox.
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs[executionID] = d

	st, err := c.tracker.TransitionWorkflow(ctx, executionID, models.WorkflowRunning, "")
	if err != nil {
		delete(c.runs, executionID)

		return nil, err
	}

	c.launch(runCtx, d)

	return st, nil
}

// OnActivation starts a run for a scheduler activation.
func (c *Controller) OnActivation(ctx context.Context, activation scheduler.Activation) {
	c.metrics.Activation(activation.TaskID)

	st, err := c.Execute(ctx, activation.WorkflowID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to start scheduled run",
			"task_id", activation.TaskID, "workflow_id", activation.WorkflowID, "error", err)

		return
	}

	c.logger.InfoContext(ctx, "Scheduled run started",
		"task_id", activation.TaskID, "workflow_id", activation.WorkflowID, "execution_id", st.ExecutionID)
}

// Pause asks a running execution to stop at its next action boundary.
// Pausing a paused execution is a no-op.
func (c *Controller) Pause(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, live := c.runs[executionID]; live {
		d.send(events.CommandPause)
		c.broadcast(ctx, executionID, events.CommandPause)

		return c.tracker.Workflow(ctx, executionID)
	}

	st, err := c.tracker.Workflow(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if st.Status == models.WorkflowPaused {
		return st, nil
	}

	return st, &ExecutionError{ExecutionID: executionID, Status: string(st.Status), Err: ErrExecutionNotRunning}
}

// Resume restarts a paused execution from its checkpoint in a fresh dispatcher.
func (c *Controller) Resume(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, live := c.runs[executionID]; live {
		d.send(events.CommandResume)

		return c.tracker.Workflow(ctx, executionID)
	}

	st, err := c.tracker.Workflow(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if st.Status != models.WorkflowPaused {
		return st, &ExecutionError{ExecutionID: executionID, Status: string(st.Status), Err: ErrExecutionNotPaused}
	}

	return c.resumeLocked(ctx, executionID)
}

// Abort ends an execution. It is terminal and idempotent.
func (c *Controller) Abort(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, live := c.runs[executionID]; live {
		d.send(events.CommandAbort)

		return c.tracker.Workflow(ctx, executionID)
	}

	st, err := c.tracker.Workflow(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if st.Status == models.WorkflowAborted {
		return st, nil
	}

	return c.finalizeAbort(ctx, executionID, errAborted.Error())
}

// SubmitTriggerData offers data to the trigger gate of executionID. On a match
// the run resumes from its checkpoint with the data stored under the trigger id.
func (c *Controller) SubmitTriggerData(ctx context.Context, executionID string, data any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runCtx := c.ctx
	if runCtx == nil {
		return false, ErrControllerStopped
	}

	release, matched, err := c.gate.Submit(ctx, executionID, data)
	if err != nil || !matched {
		return false, err
	}

	d, err := c.restore(ctx, executionID)
	if err == nil {
		d.released = release.ActionID
		d.accumulator[release.TriggerID] = data

		_, err = c.tracker.TransitionWorkflow(ctx, executionID, models.WorkflowRunning, "trigger "+release.TriggerID+" matched")
	}

	if err != nil {
		regErr := c.gate.Register(executionID, release.Registration)

		return false, errors.Join(fmt.Errorf("failed to release %s: %w", executionID, err), regErr)
	}

	c.dropCheckpoint(ctx, executionID)
	c.launch(runCtx, d)

	return true, nil
}

// restoreGates registers a gate for every awaiting_data execution that has
// none. An execution whose gate cannot be rebuilt is logged and left parked.
func (c *Controller) restoreGates(ctx context.Context) error {
	parked, err := c.tracker.WorkflowsInState(ctx, models.WorkflowAwaitingData)
	if err != nil {
		return fmt.Errorf("failed to list parked executions: %w", err)
	}

	restored := 0

	for _, st := range parked {
		if _, exists := c.gate.Registration(st.ExecutionID); exists {
			continue
		}

		registration, err := c.parkedRegistration(ctx, st.ExecutionID)
		if err == nil {
			err = c.gate.Register(st.ExecutionID, registration)
		}

		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to restore trigger gate", "execution_id", st.ExecutionID, "error", err)

			continue
		}

		restored++
	}

	if restored > 0 {
		c.logger.InfoContext(ctx, "Restored trigger gates", "count", restored)
	}

	return nil
}

// parkedRegistration rebuilds the gate of executionID from its checkpoint.
func (c *Controller) parkedRegistration(ctx context.Context, executionID string) (gate.Registration, error) {
	saved, err := c.checkpoints.Checkpoint(ctx, executionID)
	if err != nil {
		return gate.Registration{}, err
	}

	wf, err := c.workflows.WorkflowByID(ctx, saved.WorkflowID)
	if err != nil {
		return gate.Registration{}, err
	}

	action := wf.Action(saved.ActionID)
	if action == nil {
		return gate.Registration{}, fmt.Errorf("%w: %q", ErrUnknownAction, saved.ActionID)
	}

	trigger := wf.Trigger(action.TriggerID)
	if trigger == nil {
		return gate.Registration{}, fmt.Errorf("action %s is not gated by a known trigger", action.ID)
	}

	expr, err := expression.Compile(trigger.Expression)
	if err != nil {
		return gate.Registration{}, err
	}

	return gate.Registration{
		ExecutionID: executionID,
		ActionID:    action.ID,
		TriggerID:   trigger.ID,
		Expression:  expr,
	}, nil
}

func (c *Controller) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ctx
}

// launch starts d in its own goroutine. c.mu must be held.
func (c *Controller) launch(ctx context.Context, d *Dispatcher) {
	c.runs[d.executionID] = d
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.settle(ctx, d, d.run(ctx))
	}()
}

// settle retires a finished run. Commands that reached the run after it
// stopped reading its inbox are applied to the parked execution here.
func (c *Controller) settle(ctx context.Context, d *Dispatcher, out outcome) {
	logger := d.logger.With("status", out.state)

	switch {
	case out.state == models.WorkflowAborted:
		logger.InfoContext(ctx, "Run aborted", "reason", out.err)
	case out.err != nil:
		logger.ErrorContext(ctx, "Run stopped", "error", out.err)
	default:
		logger.InfoContext(ctx, "Run left dispatcher")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runs, d.executionID)

	if out.park != nil {
		err := c.gate.Register(d.executionID, *out.park)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to register trigger gate", "error", err)
		}
	}

	pending := make([]events.Command, 0)

	for drained := false; !drained; {
		select {
		case command := <-d.controls:
			pending = append(pending, command)
		default:
			drained = true
		}
	}

	state := out.state

	for _, command := range pending {
		parked := state == models.WorkflowPaused || state == models.WorkflowAwaitingData

		switch {
		case command == events.CommandAbort && parked:
			_, err := c.finalizeAbort(ctx, d.executionID, errAborted.Error())
			if err != nil {
				logger.ErrorContext(ctx, "Failed to abort parked run", "error", err)

				continue
			}

			state = models.WorkflowAborted
		case command == events.CommandResume && state == models.WorkflowPaused:
			_, err := c.resumeLocked(ctx, d.executionID)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to resume paused run", "error", err)

				continue
			}

			state = models.WorkflowRunning
		}
	}
}

// resumeLocked restarts a paused execution. c.mu must be held.
func (c *Controller) resumeLocked(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	if c.ctx == nil {
		return nil, ErrControllerStopped
	}

	d, err := c.restore(ctx, executionID)
	if err != nil {
		return nil, err
	}

	st, err := c.tracker.TransitionWorkflow(ctx, executionID, models.WorkflowRunning, "resumed")
	if err != nil {
		return st, err
	}

	c.dropCheckpoint(ctx, executionID)
	c.launch(c.ctx, d)
	c.broadcast(ctx, executionID, events.CommandResume)

	return st, nil
}

// restore rebuilds a dispatcher from the checkpoint of executionID.
func (c *Controller) restore(ctx context.Context, executionID string) (*Dispatcher, error) {
	saved, err := c.checkpoints.Checkpoint(ctx, executionID)
	if err != nil {
		return nil, err
	}

	wf, err := c.workflows.WorkflowByID(ctx, saved.WorkflowID)
	if err != nil {
		return nil, err
	}

	err = c.validator.Validate(wf)
	if err != nil {
		return nil, err
	}

	rows, err := c.tracker.Actions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	d := c.newDispatcher(executionID, wf)
	d.frontier = append([]string{saved.ActionID}, saved.Pending...)
	d.steps = saved.Steps

	if saved.Accumulator != nil {
		d.accumulator = saved.Accumulator
	}

	if saved.AppInstances != nil {
		d.instances = saved.AppInstances
	}

	for _, row := range rows {
		if row.Attempt > d.attempts[row.ActionID] {
			d.attempts[row.ActionID] = row.Attempt
		}
	}

	return d, nil
}

// finalizeAbort moves executionID to aborted, drops everything parked for it
// and tells workers to cancel its running actions.
func (c *Controller) finalizeAbort(ctx context.Context, executionID, reason string) (*models.WorkflowStatus, error) {
	c.gate.Remove(executionID)

	st, err := c.tracker.TransitionWorkflow(ctx, executionID, models.WorkflowAborted, reason)
	if err != nil {
		return st, err
	}

	c.dropCheckpoint(ctx, executionID)
	c.broadcast(ctx, executionID, events.CommandAbort)

	rows, err := c.tracker.Actions(ctx, executionID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to list actions of aborted run", "execution_id", executionID, "error", err)

		return st, nil
	}

	for _, row := range rows {
		if row.Status == models.ActionAwaitingData {
			_, err := c.tracker.TransitionAction(ctx, executionID, row.ActionID, row.Attempt, models.ActionAborted, nil)
			if err != nil {
				c.logger.ErrorContext(ctx, "Failed to abort parked action", "execution_id", executionID, "action_id", row.ActionID, "error", err)
			}
		}
	}

	return st, nil
}

func (c *Controller) dropCheckpoint(ctx context.Context, executionID string) {
	err := c.checkpoints.DeleteCheckpoint(ctx, executionID)
	if err != nil && !persistence.IsCheckpointNotFound(err) {
		c.logger.ErrorContext(ctx, "Failed to delete checkpoint", "execution_id", executionID, "error", err)
	}
}

// broadcast tells every worker about a control command.
func (c *Controller) broadcast(ctx context.Context, executionID string, command events.Command) {
	control := events.Control{
		BaseEvent: events.NewBaseEvent(events.ControlEvent, executionID),
		Command:   command,
	}

	err := c.bus.Publish(ctx, executionID, control)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish control command", "execution_id", executionID, "command", command, "error", err)
	}
}

func (c *Controller) handleResult(ctx context.Context, event any) error {
	result, ok := event.(*events.Result)
	if !ok {
		c.logger.ErrorContext(ctx, "Invalid event type for Result")

		return nil
	}

	c.mu.Lock()
	d, live := c.runs[result.ExecutionID]
	c.mu.Unlock()

	if !live {
		c.logger.InfoContext(ctx, "Discarding late result",
			"execution_id", result.ExecutionID, "action_id", result.ActionID, "attempt", result.Attempt, "status", result.Status)

		return nil
	}

	select {
	case d.results <- result:
	case <-d.done:
		c.logger.InfoContext(ctx, "Discarding result of finished run",
			"execution_id", result.ExecutionID, "action_id", result.ActionID, "attempt", result.Attempt)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
