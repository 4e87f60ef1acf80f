package conditional

import (
	"context"
	"testing"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() *models.ExecutionContext {
	return models.NewExecutionContext("run", "wf", nil, map[string]any{
		"score":  75,
		"status": "qualified",
		"tags":   []any{"newsletter", "webinar"},
		"lead":   map[string]any{"email": "ada@example.com", "score": "12"},
		"opt_in": true,
	})
}

func TestConditionalNode_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   map[string]any
		expected bool
	}{
		{"greater than", map[string]any{"field": "score", "operator": "greater_than", "value": 50}, true},
		{"greater than alias", map[string]any{"field": "score", "operator": ">", "value": 80}, false},
		{"greater or equal", map[string]any{"field": "score", "operator": ">=", "value": 75}, true},
		{"less than on nested string number", map[string]any{"field": "lead.score", "operator": "less_than", "value": 20}, true},
		{"less or equal", map[string]any{"field": "score", "operator": "less_or_equal", "value": 74}, false},
		{"equals string", map[string]any{"field": "status", "operator": "equals", "value": "qualified"}, true},
		{"equals default operator", map[string]any{"field": "status", "value": "cold"}, false},
		{"equals number as string", map[string]any{"field": "score", "value": "75"}, true},
		{"equals bool", map[string]any{"field": "opt_in", "value": "true"}, true},
		{"not equals", map[string]any{"field": "status", "operator": "not_equals", "value": "cold"}, true},
		{"contains list", map[string]any{"field": "tags", "operator": "contains", "value": "webinar"}, true},
		{"not contains list", map[string]any{"field": "tags", "operator": "not_contains", "value": "demo"}, true},
		{"contains substring", map[string]any{"field": "lead.email", "operator": "contains", "value": "@example"}, true},
		{"exists", map[string]any{"field": "lead.email", "operator": "exists"}, true},
		{"not exists", map[string]any{"field": "lead.phone", "operator": "not_exists"}, true},
		{"missing field compares false", map[string]any{"field": "missing", "operator": "greater_than", "value": 1}, false},
		{"templated value", map[string]any{"field": "score", "operator": "equals", "value": "{{ .vars.score }}"}, true},
		{"expression true", map[string]any{"expression": "{{ gt (num .vars.score) 50.0 }}"}, true},
		{"expression false", map[string]any{"expression": `{{ eq .vars.status "cold" }}`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			execCtx := newContext()
			node := &Node{}

			result, err := node.Execute(context.Background(), protocol.Node{ID: "check", NodeSpec: models.NodeSpec{Type: "condition", Config: tt.config}}, execCtx)
			require.NoError(t, err)

			expectedBranch := BranchFalse
			if tt.expected {
				expectedBranch = BranchTrue
			}

			assert.Equal(t, expectedBranch, result.Branch)
			assert.Equal(t, tt.expected, execCtx.Get(ResultVariable, nil))
		})
	}
}

func TestConditionalNode_RoutesOnBranch(t *testing.T) {
	execCtx := newContext()
	node := &Node{}
	spec := protocol.Node{ID: "check", NodeSpec: models.NodeSpec{Config: map[string]any{"field": "score", "operator": "greater_than", "value": 50}}}

	result, err := node.Execute(context.Background(), spec, execCtx)
	require.NoError(t, err)

	next, err := node.NextNodeID(spec, execCtx, result, []models.Edge{
		{From: "check", To: "cold", Condition: "false"},
		{From: "check", To: "hot", Condition: "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hot", next)
}

func TestConditionalNode_InvalidConfig(t *testing.T) {
	node := &Node{}

	for _, config := range []map[string]any{
		{},
		{"field": "score", "operator": "between", "value": 1},
		{"expression": "{{ .broken"},
	} {
		_, err := node.Execute(context.Background(), protocol.Node{ID: "check", NodeSpec: models.NodeSpec{Config: config}}, newContext())
		require.ErrorIs(t, err, protocol.ErrInvalidConfig)
		assert.False(t, protocol.IsRetryable(err))
	}
}
