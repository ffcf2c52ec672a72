// Package expression compiles the restricted predicates used by trigger gates.
//
// Predicates are JSONata expressions evaluated against the submitted data. They
// have no side effects and only a boolean result counts as a match.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blues/jsonata-go"
)

var (
	ErrEmptyExpression = errors.New("expression is empty")
	ErrNotBoolean      = errors.New("expression did not evaluate to a boolean")
)

type Expression struct {
	source string
	expr   *jsonata.Expr
}

// Compile parses source once so evaluation never re-parses user input.
func Compile(source string) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyExpression
	}

	expr, err := jsonata.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", source, err)
	}

	return &Expression{source: source, expr: expr}, nil
}

func (e *Expression) String() string {
	return e.source
}

// Match evaluates the expression against data. An undefined result is a miss.
func (e *Expression) Match(data any) (bool, error) {
	result, err := e.expr.Eval(data)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return false, nil
		}

		return false, fmt.Errorf("failed to evaluate expression %q: %w", e.source, err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNotBoolean, result)
	}

	return matched, nil
}
