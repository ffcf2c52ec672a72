package status

import (
	"context"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/qmuntal/stateless"
)

// Transitions are fired with the destination state as trigger.
var workflowTransitions = map[models.WorkflowState][]models.WorkflowState{
	models.WorkflowPending:      {models.WorkflowRunning, models.WorkflowAborted},
	models.WorkflowRunning:      {models.WorkflowPaused, models.WorkflowAwaitingData, models.WorkflowCompleted, models.WorkflowAborted},
	models.WorkflowPaused:       {models.WorkflowRunning, models.WorkflowAborted},
	models.WorkflowAwaitingData: {models.WorkflowRunning, models.WorkflowAborted},
	models.WorkflowCompleted:    {},
	models.WorkflowAborted:      {},
}

var actionTransitions = map[models.ActionState][]models.ActionState{
	models.ActionExecuting:    {models.ActionSuccess, models.ActionFailure, models.ActionAborted, models.ActionAwaitingData},
	models.ActionAwaitingData: {models.ActionExecuting, models.ActionAborted},
	models.ActionSuccess:      {},
	models.ActionFailure:      {},
	models.ActionAborted:      {},
}

// newMachine binds a state machine to *current. Firing mutates *current only on success.
func newMachine[S comparable](current *S, transitions map[S][]S) *stateless.StateMachine {
	machine := stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) {
			return *current, nil
		},
		func(_ context.Context, state stateless.State) error {
			*current = state.(S)

			return nil
		},
		stateless.FiringImmediate,
	)

	for from, targets := range transitions {
		configuration := machine.Configure(from)
		for _, to := range targets {
			configuration.Permit(to, to)
		}
	}

	return machine
}

func CanTransitionWorkflow(from, to models.WorkflowState) bool {
	for _, target := range workflowTransitions[from] {
		if target == to {
			return true
		}
	}

	return false
}
