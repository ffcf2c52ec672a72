// Package models defines the workflow graph, execution status and checkpoint types.
package models

import (
	"sort"
	"time"
)

// Workflow is a directed graph of actions connected by branches.
type Workflow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"                  validate:"required"`
	Description string      `json:"description,omitempty"`
	Start       string      `json:"start"                 validate:"required"`
	Actions     []*Action   `json:"actions"               validate:"required,min=1,dive,required"`
	Branches    []*Branch   `json:"branches"              validate:"dive,required"`
	Triggers    []*Trigger  `json:"triggers,omitempty"    validate:"dive,required"`
	Variables   []*Variable `json:"variables,omitempty"   validate:"dive,required"`
	Tags        []string    `json:"tags,omitempty"`
	IsValid     bool        `json:"is_valid"`
	Errors      []string    `json:"errors,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Variable is a workflow-scoped environment variable that arguments may reference.
type Variable struct {
	ID          string `json:"id"                    validate:"required"`
	Name        string `json:"name"                  validate:"required"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

// Action finds an action by id. Lookups skip nil elements, which a decoded
// document may hold until it is validated.
func (w *Workflow) Action(id string) *Action {
	for _, action := range w.Actions {
		if action != nil && action.ID == id {
			return action
		}
	}

	return nil
}

// ActionByReference finds an action by id, falling back to its name.
func (w *Workflow) ActionByReference(ref string) *Action {
	if action := w.Action(ref); action != nil {
		return action
	}

	for _, action := range w.Actions {
		if action != nil && action.Name != "" && action.Name == ref {
			return action
		}
	}

	return nil
}

// Referable reports whether an argument may reference ref: an action by id or
// name, or a trigger whose submitted data the run stores under its id.
func (w *Workflow) Referable(ref string) bool {
	return w.ActionByReference(ref) != nil || w.Trigger(ref) != nil
}

func (w *Workflow) Trigger(id string) *Trigger {
	for _, trigger := range w.Triggers {
		if trigger != nil && trigger.ID == id {
			return trigger
		}
	}

	return nil
}

func (w *Workflow) Variable(id string) *Variable {
	for _, variable := range w.Variables {
		if variable != nil && variable.ID == id {
			return variable
		}
	}

	return nil
}

// OutgoingBranches returns the branches leaving source that listen to the given
// outcome, ordered by ascending priority. Equal priorities keep declaration order.
func (w *Workflow) OutgoingBranches(source string, status BranchStatus) []*Branch {
	branches := make([]*Branch, 0)

	for _, branch := range w.Branches {
		if branch != nil && branch.SourceID == source && branch.Listens(status) {
			branches = append(branches, branch)
		}
	}

	sort.SliceStable(branches, func(i, j int) bool {
		return branches[i].Priority < branches[j].Priority
	})

	return branches
}
