// Package template provides templating functionality for dynamic node configuration and edge conditions.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/leadpilot/automation/pkg/models"
)

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderWithContext renders input against the execution context and coerces the result.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	return Render(input, contextData(executionCtx))
}

// RenderStringWithContext renders input against the execution context without coercion.
func RenderStringWithContext(input string, executionCtx *models.ExecutionContext) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	return execute(input, contextData(executionCtx))
}

// RenderConfig renders every string value of config, recursing into maps and lists.
// Strings without template actions are returned untouched.
func RenderConfig(config map[string]any, executionCtx *models.ExecutionContext) (map[string]any, error) {
	data := contextData(executionCtx)

	rendered, err := renderValue(config, data)
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	return out, nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

func contextData(executionCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"variables":    executionCtx.Variables,
		"vars":         executionCtx.Variables, // Support both .vars and .variables
		"trigger_data": executionCtx.Trigger,
		"env":          getEnvVars(),
		"execution": map[string]any{
			"id":          executionCtx.RunID,
			"workflow_id": executionCtx.WorkflowID,
			"entity_id":   executionCtx.TriggerEntityID,
			"visits":      executionCtx.Visits,
		},
	}
}

// Render executes templateStr with data. The output is parsed as JSON, number or
// boolean when it looks like one, and returned as a string otherwise.
func Render(templateStr string, data any) (any, error) {
	result, err := execute(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func execute(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("node").
		Option("missingkey=zero").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
		// num lets templates compare values of mixed numeric types, e.g. {{ gt (num .vars.score) 50.0 }}.
		"num": func(value any) float64 {
			f, _ := models.ToFloat(value)

			return f
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"contains": func(haystack, needle string) bool {
			return strings.Contains(haystack, needle)
		},
		"default": func(def, value any) any {
			if value == nil || value == "" {
				return def
			}

			return value
		},
	}
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
