package conditional

import (
	"errors"
	"fmt"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
)

// Validate checks expr statically. Problems are joined into one error.
// wf may be nil, in which case argument references are not checked.
func (e *Evaluator) Validate(expr *models.ConditionalExpression, wf *models.Workflow) error {
	if expr == nil {
		return nil
	}

	return errors.Join(e.validateExpression(expr, wf, "condition")...)
}

func (e *Evaluator) validateExpression(expr *models.ConditionalExpression, wf *models.Workflow, path string) []error {
	var problems []error

	switch expr.Operator {
	case models.OperatorAnd, models.OperatorOr, models.OperatorXor:
	default:
		problems = append(problems, fmt.Errorf("%s: %w: %q", path, ErrUnknownOperator, expr.Operator))
	}

	for i, condition := range expr.Conditions {
		conditionPath := fmt.Sprintf("%s.conditions[%d]", path, i)
		if condition == nil {
			problems = append(problems, fmt.Errorf("%s: %w", conditionPath, ErrNilNode))

			continue
		}

		_, err := e.registry.ResolveKind(condition.AppName, condition.ActionName, registry.KindCondition)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", conditionPath, err))
		}

		problems = append(problems, checkArguments(condition.Arguments, wf, conditionPath)...)

		for j, transform := range condition.Transforms {
			transformPath := fmt.Sprintf("%s.transforms[%d]", conditionPath, j)
			if transform == nil {
				problems = append(problems, fmt.Errorf("%s: %w", transformPath, ErrNilNode))

				continue
			}

			_, err := e.registry.ResolveKind(transform.AppName, transform.ActionName, registry.KindTransform)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", transformPath, err))
			}

			problems = append(problems, checkArguments(transform.Arguments, wf, transformPath)...)
		}
	}

	for i, child := range expr.ChildExpressions {
		childPath := fmt.Sprintf("%s.children[%d]", path, i)
		if child == nil {
			problems = append(problems, fmt.Errorf("%s: %w", childPath, ErrNilNode))

			continue
		}

		problems = append(problems, e.validateExpression(child, wf, childPath)...)
	}

	return problems
}

func checkArguments(args []models.Argument, wf *models.Workflow, path string) []error {
	if wf == nil {
		return nil
	}

	var problems []error

	for _, arg := range args {
		if arg.IsReference() && !wf.Referable(arg.Reference) {
			problems = append(problems, fmt.Errorf("%s.%s: %w: %q", path, arg.Name, ErrDanglingRef, arg.Reference))
		}

		if arg.IsVariable() && wf.Variable(arg.Variable) == nil {
			problems = append(problems, fmt.Errorf("%s.%s: %w: %q", path, arg.Name, ErrUnknownVariable, arg.Variable))
		}
	}

	return problems
}
