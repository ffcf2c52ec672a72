package models

// BranchStatus selects the source outcome a branch listens to.
type BranchStatus string

const (
	BranchOnSuccess BranchStatus = "success"
	BranchOnFailure BranchStatus = "failure"
)

// Branch is a directed edge between two actions, optionally guarded by a condition.
type Branch struct {
	ID            string                 `json:"id"                  validate:"required"`
	WorkflowID    string                 `json:"workflow_id"`
	SourceID      string                 `json:"source_id"           validate:"required"`
	DestinationID string                 `json:"destination_id"      validate:"required"`
	Status        BranchStatus           `json:"status,omitempty"    validate:"omitempty,oneof=success failure"`
	Priority      int                    `json:"priority"`
	Condition     *ConditionalExpression `json:"condition,omitempty"`
}

// Listens reports whether the branch is considered for the given outcome.
// An empty status listens to success.
func (b *Branch) Listens(status BranchStatus) bool {
	if b.Status == "" {
		return status == BranchOnSuccess
	}

	return b.Status == status
}

// LogicalOperator combines the children of a conditional expression.
type LogicalOperator string

const (
	OperatorAnd LogicalOperator = "and"
	OperatorOr  LogicalOperator = "or"
	OperatorXor LogicalOperator = "xor"
)

// ConditionalExpression is a boolean tree. Conditions are evaluated before
// child expressions, each list in order.
type ConditionalExpression struct {
	ID               string                   `json:"id,omitempty"`
	Operator         LogicalOperator          `json:"operator"`
	IsNegated        bool                     `json:"is_negated,omitempty"`
	Conditions       []*Condition             `json:"conditions,omitempty"`
	ChildExpressions []*ConditionalExpression `json:"child_expressions,omitempty"`
}

// Condition invokes a predicate capability after applying its transforms in order.
type Condition struct {
	ID         string       `json:"id,omitempty"`
	AppName    string       `json:"app_name"`
	ActionName string       `json:"action_name"`
	Arguments  []Argument   `json:"arguments,omitempty"`
	IsNegated  bool         `json:"is_negated,omitempty"`
	Transforms []*Transform `json:"transforms,omitempty"`
}

// Transform reshapes the value fed to a condition.
type Transform struct {
	ID         string     `json:"id,omitempty"`
	AppName    string     `json:"app_name"`
	ActionName string     `json:"action_name"`
	Arguments  []Argument `json:"arguments,omitempty"`
}
