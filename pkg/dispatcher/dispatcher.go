// Package dispatcher drives workflow executions: one Dispatcher per run, all
// runs owned by a Controller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/expression"
	"github.com/dukex/orchestron/pkg/gate"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/otelhelper"
	"github.com/dukex/orchestron/pkg/registry"
)

const inboxSize = 16

var (
	errAborted        = errors.New("abort requested")
	errActionTimedOut = errors.New("action timed out")
)

// outcome is how a run left its goroutine.
type outcome struct {
	state models.WorkflowState
	// park is set when the run waits on the trigger gate.
	park *gate.Registration
	err  error
}

// Dispatcher executes one run. Only its own goroutine touches its state; the
// controller talks to it through the results and controls inboxes.
type Dispatcher struct {
	executionID string
	workflow    *models.Workflow
	c           *Controller
	logger      *slog.Logger

	frontier    []string
	accumulator map[string]any
	instances   map[string]any
	steps       int
	attempts    map[string]int
	// released is the trigger-gated action whose awaiting attempt may now execute.
	released string

	pauseRequested bool
	abortRequested bool

	results  chan *events.Result
	controls chan events.Command
	done     chan struct{}
}

func (c *Controller) newDispatcher(executionID string, wf *models.Workflow) *Dispatcher {
	return &Dispatcher{
		executionID: executionID,
		workflow:    wf,
		c:           c,
		logger:      c.logger.With("execution_id", executionID, "workflow_id", wf.ID),
		accumulator: make(map[string]any),
		instances:   make(map[string]any),
		attempts:    make(map[string]int),
		results:     make(chan *events.Result, inboxSize),
		controls:    make(chan events.Command, inboxSize),
		done:        make(chan struct{}),
	}
}

// send queues a control command without blocking the caller.
func (d *Dispatcher) send(command events.Command) {
	select {
	case d.controls <- command:
	default:
		d.logger.Warn("Control inbox full, dropping command", "command", command)
	}
}

func (d *Dispatcher) run(ctx context.Context) outcome {
	defer close(d.done)

	d.logger.InfoContext(ctx, "Run started", "frontier", d.frontier, "steps", d.steps)

	for len(d.frontier) > 0 {
		out, stop := d.boundary(ctx)
		if stop {
			return out
		}

		action := d.workflow.Action(d.frontier[0])
		if action == nil {
			return d.abort(ctx, fmt.Errorf("%w: %q", ErrUnknownAction, d.frontier[0]))
		}

		if action.TriggerID != "" && d.released != action.ID {
			return d.park(ctx, action)
		}

		if d.steps >= d.c.options.MaxSteps {
			return d.abort(ctx, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, d.c.options.MaxSteps))
		}

		d.frontier = d.frontier[1:]
		d.steps++

		state, payload, err := d.step(ctx, action)
		if err != nil {
			if errors.Is(err, errAborted) {
				return d.abort(ctx, err)
			}

			return outcome{state: models.WorkflowRunning, err: err}
		}

		next := d.successors(ctx, action, state, payload)
		if state != models.ActionSuccess && len(next) == 0 {
			return d.abort(ctx, fmt.Errorf("action %s ended %s without a failure branch: %v", action.ID, state, payload))
		}

		d.frontier = append(d.frontier, next...)
	}

	return d.complete(ctx)
}

// boundary applies queued control commands between two actions.
func (d *Dispatcher) boundary(ctx context.Context) (outcome, bool) {
	d.drainControls()

	switch {
	case d.abortRequested:
		return d.abort(ctx, errAborted), true
	case d.pauseRequested:
		return d.pause(ctx), true
	case ctx.Err() != nil:
		return outcome{state: models.WorkflowRunning, err: ctx.Err()}, true
	}

	return outcome{}, false
}

func (d *Dispatcher) drainControls() {
	for {
		select {
		case command := <-d.controls:
			d.apply(command)
		default:
			return
		}
	}
}

func (d *Dispatcher) apply(command events.Command) {
	switch command {
	case events.CommandAbort:
		d.abortRequested = true
	case events.CommandPause:
		d.pauseRequested = true
	case events.CommandResume:
		d.pauseRequested = false
	}
}

func (d *Dispatcher) step(ctx context.Context, action *models.Action) (models.ActionState, any, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.c.tracer, "dispatcher.step",
		otelhelper.ActionAttributes(d.executionID, action.ID, d.attempts[action.ID]+1, action.AppName, action.ActionName)...)
	defer span.End()

	args, argErr := d.resolveArguments(action.Arguments)
	if argErr == nil {
		argErr = d.validateArguments(action, args)
	}

	attempt, err := d.begin(ctx, action, args)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", nil, err
	}

	if argErr != nil {
		d.logger.WarnContext(ctx, "Action arguments rejected", "action_id", action.ID, "error", argErr)
		d.finish(ctx, action.ID, attempt, models.ActionFailure, argErr.Error())
		d.accumulator[action.ID] = argErr.Error()

		return models.ActionFailure, argErr.Error(), nil
	}

	for try := 0; ; try++ {
		result, err := d.dispatch(ctx, action, attempt, args)
		switch {
		case err == nil && result.Status == models.ActionAborted:
			d.finish(ctx, action.ID, attempt, models.ActionAborted, result.Payload)

			return "", nil, errAborted
		case err == nil:
			state := result.Status
			if !state.IsTerminal() {
				state = models.ActionFailure
			}

			if result.Instance != nil {
				d.instances[action.InstanceKey()] = result.Instance
			}

			d.accumulator[action.ID] = result.Payload
			d.finish(ctx, action.ID, attempt, state, result.Payload)
			otelhelper.SetActionStatus(span, string(state))

			return state, result.Payload, nil
		case errors.Is(err, errAborted):
			d.finish(ctx, action.ID, attempt, models.ActionAborted, nil)

			return "", nil, errAborted
		case ctx.Err() != nil:
			return "", nil, ctx.Err()
		}

		d.logger.WarnContext(ctx, "Dispatch attempt failed", "action_id", action.ID, "attempt", attempt, "error", err)
		d.finish(ctx, action.ID, attempt, models.ActionFailure, err.Error())

		if try >= d.c.options.TransportRetries {
			otelhelper.SetError(span, ErrTransportExhausted)
			d.accumulator[action.ID] = ErrTransportExhausted.Error()

			return models.ActionFailure, ErrTransportExhausted.Error(), nil
		}

		attempt = d.nextAttempt(action.ID)

		err = d.append(ctx, action, attempt, models.ActionExecuting, args)
		if err != nil {
			return "", nil, err
		}
	}
}

// begin opens the attempt row the dispatch will report on.
func (d *Dispatcher) begin(ctx context.Context, action *models.Action, args map[string]any) (int, error) {
	if d.released == action.ID {
		d.released = ""
		attempt := d.attempts[action.ID]

		_, err := d.c.tracker.TransitionAction(ctx, d.executionID, action.ID, attempt, models.ActionExecuting, nil)

		return attempt, err
	}

	attempt := d.nextAttempt(action.ID)

	return attempt, d.append(ctx, action, attempt, models.ActionExecuting, args)
}

func (d *Dispatcher) nextAttempt(actionID string) int {
	d.attempts[actionID]++

	return d.attempts[actionID]
}

func (d *Dispatcher) append(ctx context.Context, action *models.Action, attempt int, state models.ActionState, args map[string]any) error {
	return d.c.tracker.AppendAction(ctx, &models.ActionStatus{
		ExecutionID: d.executionID,
		ActionID:    action.ID,
		Attempt:     attempt,
		Name:        action.Name,
		AppName:     action.AppName,
		ActionName:  action.ActionName,
		Arguments:   args,
		Status:      state,
	})
}

func (d *Dispatcher) finish(ctx context.Context, actionID string, attempt int, state models.ActionState, payload any) {
	_, err := d.c.tracker.TransitionAction(ctx, d.executionID, actionID, attempt, state, payload)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to record action status",
			"action_id", actionID, "attempt", attempt, "status", state, "error", err)
	}
}

// dispatch publishes one attempt and waits for its final result.
func (d *Dispatcher) dispatch(ctx context.Context, action *models.Action, attempt int, args map[string]any) (*events.Result, error) {
	message := events.Dispatch{
		BaseEvent:  events.NewBaseEvent(events.DispatchEvent, d.executionID),
		WorkflowID: d.workflow.ID,
		ActionID:   action.ID,
		Attempt:    attempt,
		AppName:    action.AppName,
		ActionName: action.ActionName,
		DeviceID:   action.DeviceID,
		Arguments:  args,
		Instance:   d.instances[action.InstanceKey()],
	}

	err := d.c.bus.Publish(ctx, d.executionID, message)
	if err != nil {
		return nil, fmt.Errorf("failed to publish dispatch: %w", err)
	}

	d.c.metrics.Dispatched(action.AppName, action.ActionName)
	d.logger.DebugContext(ctx, "Action dispatched", "action_id", action.ID, "attempt", attempt)

	return d.await(ctx, action.ID, attempt)
}

// await consumes the inboxes until the result of (actionID, attempt) arrives.
// Results of other attempts are stale and dropped. A pause is remembered for
// the next boundary; an abort ends the wait.
func (d *Dispatcher) await(ctx context.Context, actionID string, attempt int) (*events.Result, error) {
	var timeout <-chan time.Time

	if d.c.options.ActionTimeout > 0 {
		timer := time.NewTimer(d.c.options.ActionTimeout)
		defer timer.Stop()

		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, errActionTimedOut
		case command := <-d.controls:
			d.apply(command)

			if d.abortRequested {
				return nil, errAborted
			}
		case result := <-d.results:
			if result.ActionID != actionID || result.Attempt != attempt {
				d.logger.InfoContext(ctx, "Discarding stale result",
					"action_id", result.ActionID, "attempt", result.Attempt, "awaiting_attempt", attempt)

				continue
			}

			if result.Partial {
				d.logger.DebugContext(ctx, "Partial result", "action_id", actionID, "sequence", result.Sequence)

				continue
			}

			return result, nil
		}
	}
}

// successors evaluates the branches listening to the action's outcome in
// priority order. first_match keeps the first satisfied branch, fan_out all.
// A branch whose condition fails to evaluate does not fire.
func (d *Dispatcher) successors(ctx context.Context, action *models.Action, state models.ActionState, payload any) []string {
	listen := models.BranchOnSuccess
	if state != models.ActionSuccess {
		listen = models.BranchOnFailure
	}

	var next []string

	for _, branch := range d.workflow.OutgoingBranches(action.ID, listen) {
		matched, err := d.c.evaluator.Evaluate(ctx, branch.Condition, payload, d.resolveArguments)
		if err != nil {
			d.logger.WarnContext(ctx, "Branch condition failed", "branch_id", branch.ID, "error", err)

			continue
		}

		if !matched {
			continue
		}

		next = append(next, branch.DestinationID)

		if d.c.options.BranchPolicy != config.BranchPolicyFanOut {
			break
		}
	}

	return next
}

func (d *Dispatcher) resolveArguments(args []models.Argument) (map[string]any, error) {
	resolved := make(map[string]any, len(args))

	for _, arg := range args {
		value, err := d.resolve(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}

		resolved[arg.Name] = value
	}

	return resolved, nil
}

func (d *Dispatcher) resolve(arg models.Argument) (any, error) {
	switch {
	case arg.IsReference():
		value, ok := d.lookup(arg.Reference)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedReference, arg.Reference)
		}

		if len(arg.Selection) == 0 {
			return value, nil
		}

		return models.Select(value, arg.Selection)
	case arg.IsVariable():
		variable := d.workflow.Variable(arg.Variable)
		if variable == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, arg.Variable)
		}

		return variable.Value, nil
	default:
		return arg.Value, nil
	}
}

// lookup finds a stored result by key, then by action name.
func (d *Dispatcher) lookup(ref string) (any, bool) {
	if value, ok := d.accumulator[ref]; ok {
		return value, true
	}

	action := d.workflow.ActionByReference(ref)
	if action == nil {
		return nil, false
	}

	value, ok := d.accumulator[action.ID]

	return value, ok
}

func (d *Dispatcher) validateArguments(action *models.Action, args map[string]any) error {
	capability, err := d.c.registry.ResolveKind(action.AppName, action.ActionName, registry.KindAction)
	if err != nil {
		return err
	}

	return capability.ValidateArguments(args)
}

func (d *Dispatcher) checkpoint(ctx context.Context, state models.WorkflowState) error {
	pending := make([]string, len(d.frontier)-1)
	copy(pending, d.frontier[1:])

	return d.c.checkpoints.SaveCheckpoint(ctx, &models.SavedWorkflow{
		ExecutionID:  d.executionID,
		WorkflowID:   d.workflow.ID,
		ActionID:     d.frontier[0],
		Status:       state,
		Pending:      pending,
		Accumulator:  d.accumulator,
		AppInstances: d.instances,
		Steps:        d.steps,
		SavedAt:      time.Now().UTC(),
	})
}

func (d *Dispatcher) pause(ctx context.Context) outcome {
	err := d.checkpoint(ctx, models.WorkflowPaused)
	if err != nil {
		return d.abort(ctx, fmt.Errorf("failed to checkpoint paused run: %w", err))
	}

	_, err = d.c.tracker.TransitionWorkflow(ctx, d.executionID, models.WorkflowPaused, "pause requested")
	if err != nil {
		return outcome{state: models.WorkflowRunning, err: err}
	}

	d.logger.InfoContext(ctx, "Run paused", "next_action", d.frontier[0])

	return outcome{state: models.WorkflowPaused}
}

// park stores the run and hands it to the trigger gate of action.
func (d *Dispatcher) park(ctx context.Context, action *models.Action) outcome {
	trigger := d.workflow.Trigger(action.TriggerID)
	if trigger == nil || !trigger.Active() {
		return d.abort(ctx, fmt.Errorf("action %s is gated by unusable trigger %q", action.ID, action.TriggerID))
	}

	expr, err := expression.Compile(trigger.Expression)
	if err != nil {
		return d.abort(ctx, err)
	}

	attempt := d.nextAttempt(action.ID)

	err = d.append(ctx, action, attempt, models.ActionAwaitingData, nil)
	if err != nil {
		return outcome{state: models.WorkflowRunning, err: err}
	}

	err = d.checkpoint(ctx, models.WorkflowAwaitingData)
	if err != nil {
		return d.abort(ctx, fmt.Errorf("failed to checkpoint parked run: %w", err))
	}

	_, err = d.c.tracker.TransitionWorkflow(ctx, d.executionID, models.WorkflowAwaitingData, "awaiting trigger "+trigger.ID)
	if err != nil {
		return outcome{state: models.WorkflowRunning, err: err}
	}

	d.logger.InfoContext(ctx, "Run awaiting data", "action_id", action.ID, "trigger_id", trigger.ID)

	return outcome{
		state: models.WorkflowAwaitingData,
		park: &gate.Registration{
			ExecutionID: d.executionID,
			ActionID:    action.ID,
			TriggerID:   trigger.ID,
			Expression:  expr,
		},
	}
}

func (d *Dispatcher) abort(ctx context.Context, reason error) outcome {
	d.logger.InfoContext(ctx, "Aborting run", "reason", reason)

	_, err := d.c.finalizeAbort(ctx, d.executionID, reason.Error())
	if err != nil {
		return outcome{state: models.WorkflowRunning, err: err}
	}

	return outcome{state: models.WorkflowAborted, err: reason}
}

func (d *Dispatcher) complete(ctx context.Context) outcome {
	_, err := d.c.tracker.TransitionWorkflow(ctx, d.executionID, models.WorkflowCompleted, "")
	if err != nil {
		return outcome{state: models.WorkflowRunning, err: err}
	}

	d.c.gate.Remove(d.executionID)
	d.logger.InfoContext(ctx, "Run completed", "steps", d.steps)

	return outcome{state: models.WorkflowCompleted}
}
