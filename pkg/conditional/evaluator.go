// Package conditional evaluates the boolean expression trees guarding branches.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
)

var (
	ErrUnknownOperator = errors.New("unknown logical operator")
	ErrNilNode         = errors.New("nil node in expression")
	ErrDanglingRef     = errors.New("argument references an unknown action or trigger")
	ErrUnknownVariable = errors.New("argument references an unknown variable")
)

// ArgumentResolver turns declared arguments into concrete values.
type ArgumentResolver func(args []models.Argument) (map[string]any, error)

// LiteralArguments resolves only literal values. References and variables resolve to nil.
func LiteralArguments(args []models.Argument) (map[string]any, error) {
	resolved := make(map[string]any, len(args))
	for _, arg := range args {
		resolved[arg.Name] = arg.Value
	}

	return resolved, nil
}

type Evaluator struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewEvaluator(reg *registry.Registry, logger *slog.Logger) *Evaluator {
	return &Evaluator{registry: reg, logger: logger.With("module", "conditional")}
}

// Evaluate decides expr against value, the result of the branch's source action.
// A nil expression is unconditionally true.
func (e *Evaluator) Evaluate(ctx context.Context, expr *models.ConditionalExpression, value any, resolve ArgumentResolver) (bool, error) {
	if expr == nil {
		return true, nil
	}

	if resolve == nil {
		resolve = LiteralArguments
	}

	return e.expression(ctx, expr, value, resolve)
}

func (e *Evaluator) expression(ctx context.Context, expr *models.ConditionalExpression, value any, resolve ArgumentResolver) (bool, error) {
	children := make([]func() (bool, error), 0, len(expr.Conditions)+len(expr.ChildExpressions))

	for _, condition := range expr.Conditions {
		children = append(children, func() (bool, error) {
			return e.condition(ctx, condition, value, resolve)
		})
	}

	for _, child := range expr.ChildExpressions {
		children = append(children, func() (bool, error) {
			return e.expression(ctx, child, value, resolve)
		})
	}

	var result bool

	switch expr.Operator {
	case models.OperatorAnd:
		result = true

		for _, child := range children {
			ok, err := child()
			if err != nil {
				return false, err
			}

			if !ok {
				result = false

				break
			}
		}
	case models.OperatorOr:
		for _, child := range children {
			ok, err := child()
			if err != nil {
				return false, err
			}

			if ok {
				result = true

				break
			}
		}
	case models.OperatorXor:
		// every child is evaluated, odd parity wins
		trueCount := 0

		for _, child := range children {
			ok, err := child()
			if err != nil {
				return false, err
			}

			if ok {
				trueCount++
			}
		}

		result = trueCount%2 == 1
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, expr.Operator)
	}

	if expr.IsNegated {
		result = !result
	}

	return result, nil
}

func (e *Evaluator) condition(ctx context.Context, condition *models.Condition, value any, resolve ArgumentResolver) (bool, error) {
	current := value

	for _, transform := range condition.Transforms {
		capability, err := e.registry.ResolveKind(transform.AppName, transform.ActionName, registry.KindTransform)
		if err != nil {
			return false, err
		}

		args, err := resolve(transform.Arguments)
		if err != nil {
			return false, fmt.Errorf("failed to resolve transform arguments: %w", err)
		}

		err = capability.ValidateArguments(args)
		if err != nil {
			return false, err
		}

		current, err = capability.Transform(ctx, current, args)
		if err != nil {
			return false, fmt.Errorf("transform %s.%s failed: %w", transform.AppName, transform.ActionName, err)
		}
	}

	capability, err := e.registry.ResolveKind(condition.AppName, condition.ActionName, registry.KindCondition)
	if err != nil {
		return false, err
	}

	args, err := resolve(condition.Arguments)
	if err != nil {
		return false, fmt.Errorf("failed to resolve condition arguments: %w", err)
	}

	err = capability.ValidateArguments(args)
	if err != nil {
		return false, err
	}

	result, err := capability.Condition(ctx, current, args)
	if err != nil {
		return false, fmt.Errorf("condition %s.%s failed: %w", condition.AppName, condition.ActionName, err)
	}

	e.logger.DebugContext(ctx, "Condition evaluated",
		"app", condition.AppName, "condition", condition.ActionName, "result", result, "negated", condition.IsNegated)

	if condition.IsNegated {
		return !result, nil
	}

	return result, nil
}
