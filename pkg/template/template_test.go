package template

import (
	"testing"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *models.ExecutionContext {
	return models.NewExecutionContext("run-1", "wf-1", map[string]any{"region": "eu"}, map[string]any{
		"lead_id": "lead-42",
		"score":   75,
		"lead": map[string]any{
			"email": "ada@example.com",
			"name":  "Ada",
		},
	})
}

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// Test number field - always map to float
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_JSONObject(t *testing.T) {
	result, err := Render(`{"name": "{{ .name }}", "count": {{ len .items }}}`, map[string]any{
		"name":  "Alice",
		"items": []any{1, 2, 3},
	})
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["name"])
	assert.Equal(t, 3.0, resultMap["count"])
}

func TestRender_ErrorHandling(t *testing.T) {
	_, err := Render("{{ .unclosed", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRenderWithContext(t *testing.T) {
	execCtx := testContext()

	result, err := RenderWithContext("{{ .vars.lead.name }}", execCtx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", result)

	result, err = RenderWithContext("{{ .execution.entity_id }}", execCtx)
	require.NoError(t, err)
	assert.Equal(t, "lead-42", result)

	result, err = RenderWithContext("{{ gt (num .vars.score) 50.0 }}", execCtx)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = RenderWithContext("{{ .variables.region }}", execCtx)
	require.NoError(t, err)
	assert.Equal(t, "eu", result)
}

func TestRenderWithContext_MissingKeyRendersEmpty(t *testing.T) {
	result, err := RenderStringWithContext("hello {{ .vars.missing }}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "hello ", result)
}

func TestRenderConfig(t *testing.T) {
	config := map[string]any{
		"to":      "{{ .vars.lead.email }}",
		"subject": "Welcome",
		"headers": map[string]any{"X-Lead": "{{ .execution.entity_id }}"},
		"tags":    []any{"{{ .vars.region }}", "static"},
		"retries": 2,
	}

	rendered, err := RenderConfig(config, testContext())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", rendered["to"])
	assert.Equal(t, "Welcome", rendered["subject"])
	assert.Equal(t, map[string]any{"X-Lead": "lead-42"}, rendered["headers"])
	assert.Equal(t, []any{"eu", "static"}, rendered["tags"])
	assert.Equal(t, 2, rendered["retries"])

	// the source config is untouched
	assert.Equal(t, "{{ .vars.lead.email }}", config["to"])
}
