package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWorkflow() *Workflow {
	return &Workflow{
		ID:    "wf-1",
		Name:  "sample",
		Start: "a",
		Actions: []*Action{
			{ID: "a", Name: "first", AppName: "builtin", ActionName: "echo"},
			{ID: "b", Name: "second", AppName: "builtin", ActionName: "echo"},
			{ID: "c", AppName: "builtin", ActionName: "echo"},
		},
		Branches: []*Branch{
			{ID: "ab", SourceID: "a", DestinationID: "b", Priority: 5},
			{ID: "ac", SourceID: "a", DestinationID: "c", Priority: 1},
			{ID: "ac2", SourceID: "a", DestinationID: "c", Priority: 5},
			{ID: "af", SourceID: "a", DestinationID: "c", Status: BranchOnFailure},
		},
		Variables: []*Variable{{ID: "v1", Name: "region", Value: "eu"}},
	}
}

func TestWorkflow_OutgoingBranches(t *testing.T) {
	wf := sampleWorkflow()

	success := wf.OutgoingBranches("a", BranchOnSuccess)
	require.Len(t, success, 3)
	assert.Equal(t, "ac", success[0].ID)
	assert.Equal(t, "ab", success[1].ID)
	assert.Equal(t, "ac2", success[2].ID)

	failure := wf.OutgoingBranches("a", BranchOnFailure)
	require.Len(t, failure, 1)
	assert.Equal(t, "af", failure[0].ID)

	assert.Empty(t, wf.OutgoingBranches("b", BranchOnSuccess))
}

func TestWorkflow_Lookups(t *testing.T) {
	wf := sampleWorkflow()

	assert.Equal(t, "b", wf.ActionByReference("second").ID)
	assert.Equal(t, "c", wf.ActionByReference("c").ID)
	assert.Nil(t, wf.ActionByReference("missing"))
	assert.Equal(t, "eu", wf.Variable("v1").Value)
	assert.Nil(t, wf.Trigger("t"))
}

func TestWorkflow_Referable(t *testing.T) {
	wf := sampleWorkflow()
	wf.Triggers = []*Trigger{{ID: "approval", Expression: "approved"}}

	assert.True(t, wf.Referable("a"))
	assert.True(t, wf.Referable("second"))
	assert.True(t, wf.Referable("approval"))
	assert.False(t, wf.Referable("v1"))
}

func TestStates_IsTerminal(t *testing.T) {
	assert.True(t, WorkflowCompleted.IsTerminal())
	assert.True(t, WorkflowAborted.IsTerminal())
	assert.False(t, WorkflowPaused.IsTerminal())
	assert.True(t, ActionFailure.IsTerminal())
	assert.False(t, ActionAwaitingData.IsTerminal())
}
