package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/orchestron/pkg/conditional"
	"github.com/dukex/orchestron/pkg/expression"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidWorkflow   = errors.New("invalid workflow")
	ErrUnknownStart      = errors.New("start action not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrUnknownEndpoint   = errors.New("branch endpoint not found")
	ErrUnknownTrigger    = errors.New("trigger not found")
	ErrAmbiguousArgument = errors.New("argument sets both a reference and a variable")
	ErrMissingElement    = errors.New("element is null")
)

// ValidationError lists every problem found in one workflow.
type ValidationError struct {
	WorkflowID string
	Problems   []error
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		messages = append(messages, problem.Error())
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}

// Validator is the load-time pass every workflow goes through before it may run.
type Validator struct {
	registry  *registry.Registry
	evaluator *conditional.Evaluator
	validate  *validator.Validate
}

func NewValidator(reg *registry.Registry, evaluator *conditional.Evaluator) *Validator {
	return &Validator{
		registry:  reg,
		evaluator: evaluator,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks wf, records the outcome in wf.IsValid, wf.Errors and the
// Errors of each malformed trigger, and returns a *ValidationError when wf is invalid.
func (v *Validator) Validate(wf *models.Workflow) error {
	var problems []error

	err := v.validate.Struct(wf)
	if err != nil {
		problems = append(problems, err)
	}

	missing := checkElements(wf)
	if len(missing) > 0 {
		return v.invalid(wf, append(problems, missing...))
	}

	problems = append(problems, v.checkGraph(wf)...)
	problems = append(problems, v.checkActions(wf)...)
	problems = append(problems, v.checkBranches(wf)...)
	problems = append(problems, v.checkTriggers(wf)...)

	if len(problems) == 0 {
		wf.IsValid = true
		wf.Errors = nil

		return nil
	}

	return v.invalid(wf, problems)
}

func (v *Validator) invalid(wf *models.Workflow, problems []error) error {
	wf.IsValid = false
	wf.Errors = make([]string, 0, len(problems))

	for _, problem := range problems {
		wf.Errors = append(wf.Errors, problem.Error())
	}

	return &ValidationError{WorkflowID: wf.ID, Problems: problems}
}

// checkElements reports null entries in the element lists. Graph checks need
// every element present, so they are skipped when any is missing.
func checkElements(wf *models.Workflow) []error {
	var problems []error

	report := func(kind string, i int) {
		problems = append(problems, fmt.Errorf("%s[%d]: %w", kind, i, ErrMissingElement))
	}

	for i, action := range wf.Actions {
		if action == nil {
			report("actions", i)
		}
	}

	for i, branch := range wf.Branches {
		if branch == nil {
			report("branches", i)
		}
	}

	for i, trigger := range wf.Triggers {
		if trigger == nil {
			report("triggers", i)
		}
	}

	for i, variable := range wf.Variables {
		if variable == nil {
			report("variables", i)
		}
	}

	return problems
}

func (v *Validator) checkGraph(wf *models.Workflow) []error {
	var problems []error

	if wf.Start != "" && wf.Action(wf.Start) == nil {
		problems = append(problems, fmt.Errorf("%w: %q", ErrUnknownStart, wf.Start))
	}

	actionIDs := make(map[string]bool, len(wf.Actions))
	for _, action := range wf.Actions {
		if action == nil {
			continue
		}

		if actionIDs[action.ID] {
			problems = append(problems, fmt.Errorf("action %q: %w", action.ID, ErrDuplicateID))
		}

		actionIDs[action.ID] = true
	}

	branchIDs := make(map[string]bool, len(wf.Branches))
	for _, branch := range wf.Branches {
		if branch == nil {
			continue
		}

		if branch.ID != "" && branchIDs[branch.ID] {
			problems = append(problems, fmt.Errorf("branch %q: %w", branch.ID, ErrDuplicateID))
		}

		branchIDs[branch.ID] = true
	}

	return problems
}

func (v *Validator) checkActions(wf *models.Workflow) []error {
	var problems []error

	for _, action := range wf.Actions {
		if action == nil {
			continue
		}

		path := fmt.Sprintf("action %q", action.ID)

		capability, err := v.registry.ResolveKind(action.AppName, action.ActionName, registry.KindAction)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", path, err))
		}

		if action.TriggerID != "" && wf.Trigger(action.TriggerID) == nil {
			problems = append(problems, fmt.Errorf("%s: %w: %q", path, ErrUnknownTrigger, action.TriggerID))
		}

		literals := make(map[string]any, len(action.Arguments))
		onlyLiterals := true

		for _, arg := range action.Arguments {
			switch {
			case arg.IsReference() && arg.IsVariable():
				problems = append(problems, fmt.Errorf("%s.%s: %w", path, arg.Name, ErrAmbiguousArgument))
				onlyLiterals = false
			case arg.IsReference():
				onlyLiterals = false

				if !wf.Referable(arg.Reference) {
					problems = append(problems, fmt.Errorf("%s.%s: %w: %q", path, arg.Name, conditional.ErrDanglingRef, arg.Reference))
				}
			case arg.IsVariable():
				onlyLiterals = false

				if wf.Variable(arg.Variable) == nil {
					problems = append(problems, fmt.Errorf("%s.%s: %w: %q", path, arg.Name, conditional.ErrUnknownVariable, arg.Variable))
				}
			default:
				literals[arg.Name] = arg.Value
			}
		}

		// arguments that depend on run data are validated at dispatch time
		if capability != nil && onlyLiterals {
			err := capability.ValidateArguments(literals)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	return problems
}

func (v *Validator) checkBranches(wf *models.Workflow) []error {
	var problems []error

	for _, branch := range wf.Branches {
		if branch == nil {
			continue
		}

		path := fmt.Sprintf("branch %q", branch.ID)

		if wf.Action(branch.SourceID) == nil {
			problems = append(problems, fmt.Errorf("%s: %w: source %q", path, ErrUnknownEndpoint, branch.SourceID))
		}

		if wf.Action(branch.DestinationID) == nil {
			problems = append(problems, fmt.Errorf("%s: %w: destination %q", path, ErrUnknownEndpoint, branch.DestinationID))
		}

		err := v.evaluator.Validate(branch.Condition, wf)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", path, err))
		}
	}

	return problems
}

func (v *Validator) checkTriggers(wf *models.Workflow) []error {
	var problems []error

	for _, trigger := range wf.Triggers {
		if trigger == nil {
			continue
		}

		trigger.Errors = nil

		_, err := expression.Compile(trigger.Expression)
		if err != nil {
			trigger.Errors = append(trigger.Errors, err.Error())
			problems = append(problems, fmt.Errorf("trigger %q: %w", trigger.ID, err))
		}
	}

	return problems
}
