package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducks/llmux/workflow"
)

func TestValidateOutputSchemasAcceptsWellFormedSchema(t *testing.T) {
	wf := &workflow.Workflow{Steps: []workflow.Step{
		{
			Name: "plan", Type: workflow.StepQuery,
			OutputSchema: map[string]any{
				"type":     "object",
				"required": []any{"action"},
				"properties": map[string]any{
					"action": map[string]any{"type": "string"},
				},
			},
		},
	}}
	require.NoError(t, validateOutputSchemas(wf))
}

func TestValidateOutputSchemasIgnoresNonQuerySteps(t *testing.T) {
	wf := &workflow.Workflow{Steps: []workflow.Step{
		{Name: "build", Type: workflow.StepShell, Run: "echo hi"},
	}}
	assert.NoError(t, validateOutputSchemas(wf))
}
