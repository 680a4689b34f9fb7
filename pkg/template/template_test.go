package template

import (
	"testing"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ShortPlaceholders(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"score": 0.82,
		"isNew": true,
	}

	result, err := Render("{{name}}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ score }}", data)
	require.NoError(t, err)
	assert.Equal(t, 0.82, result)

	result, err = Render("{{isNew}}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRender_NestedPaths(t *testing.T) {
	data := map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{
				"status": 200,
				"body":   map[string]any{"user_id": 123},
			},
		},
	}

	result, err := Render("{{steps.fetch.status}}", data)
	require.NoError(t, err)
	assert.Equal(t, 200.0, result)

	result, err = Render("{{steps.fetch.body.user_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, 123.0, result)
}

func TestRender_GoTemplateSyntaxStillWorks(t *testing.T) {
	data := map[string]any{
		"orders": []any{
			map[string]any{"id": 1},
			map[string]any{"id": 2},
		},
	}

	result, err := Render(`{"count": {{ len .orders }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2.0, resultMap["count"])
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("{{ .broken", nil)
	require.Error(t, err)
}

func TestRenderWithContext_ScopePrecedence(t *testing.T) {
	executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
		"score": 0.91,
		"email": "alice@example.com",
	})
	executionCtx = executionCtx.WithStepResult("classify", map[string]any{
		"label": "hot",
	})

	result, err := RenderWithContext("{{score}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, 0.91, result)

	result, err = RenderWithContext("{{steps.classify.label}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "hot", result)

	result, err = RenderWithContext("{{execution.id}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", result)
}

func TestRenderString(t *testing.T) {
	executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
		"score": 0.5,
	})

	result, err := RenderString("score is {{score}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "score is 0.5", result)

	result, err = RenderString("{{score}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "0.5", result)
}

func TestRenderConfig(t *testing.T) {
	executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
		"email": "bob@example.com",
	})
	executionCtx = executionCtx.WithStepResult("score", map[string]any{"value": 0.7})

	config := map[string]any{
		"to":      "{{email}}",
		"retries": 3,
		"body": map[string]any{
			"score": "{{steps.score.value}}",
		},
		"tags": []any{"lead", "{{email}}"},
	}

	rendered, err := RenderConfig(config, executionCtx)
	require.NoError(t, err)

	assert.Equal(t, "bob@example.com", rendered["to"])
	assert.Equal(t, 3, rendered["retries"])
	assert.Equal(t, "0.7", rendered["body"].(map[string]any)["score"])
	assert.Equal(t, "bob@example.com", rendered["tags"].([]any)[1])

	// Source config must not be mutated.
	assert.Equal(t, "{{email}}", config["to"])
}
