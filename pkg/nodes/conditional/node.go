// Package conditional provides the boolean branching node.
package conditional

import (
	"context"
	"strconv"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"

	// ResultVariable holds the outcome of the most recent condition node.
	ResultVariable = "condition_result"
)

// Operators supported by the field/operator/value form.
var Operators = []string{
	"equals", "not_equals",
	"greater_than", "greater_or_equal",
	"less_than", "less_or_equal",
	"contains", "not_contains",
	"exists", "not_exists",
}

var operatorAliases = map[string]string{
	"==": "equals",
	"!=": "not_equals",
	">":  "greater_than",
	">=": "greater_or_equal",
	"<":  "less_than",
	"<=": "less_or_equal",
}

// Node evaluates either a template expression or a field comparison and branches on the result.
type Node struct {
	base.Router
}

// Execute evaluates the condition, stores it in condition_result and labels the branch.
func (n *Node) Execute(_ context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	matched, err := Evaluate(node.Config, execCtx)
	if err != nil {
		return protocol.Result{}, err
	}

	execCtx.Set(ResultVariable, matched)

	branch := BranchFalse
	if matched {
		branch = BranchTrue
	}

	return protocol.Result{
		Output: map[string]any{ResultVariable: matched},
		Branch: branch,
	}, nil
}

// Evaluate interprets a condition config against the context.
func Evaluate(config map[string]any, execCtx *models.ExecutionContext) (bool, error) {
	if expression, ok := base.String(config, "expression"); ok {
		value, err := template.RenderWithContext(expression, execCtx)
		if err != nil {
			return false, base.InvalidConfig("expression: %v", err)
		}

		return models.Truthy(value), nil
	}

	field, err := base.RequiredString(config, "field")
	if err != nil {
		return false, err
	}

	operator := "equals"
	if op, ok := base.String(config, "operator"); ok {
		operator = op
	}

	if alias, ok := operatorAliases[operator]; ok {
		operator = alias
	}

	actual, present := execCtx.Lookup(field)

	expected := config["value"]
	if s, ok := expected.(string); ok && template.NeedsTemplating(s) {
		expected, err = template.RenderWithContext(s, execCtx)
		if err != nil {
			return false, base.InvalidConfig("value: %v", err)
		}
	}

	return compare(operator, actual, present, expected)
}

func compare(operator string, actual any, present bool, expected any) (bool, error) {
	switch operator {
	case "exists":
		return present && actual != nil, nil
	case "not_exists":
		return !present || actual == nil, nil
	case "equals":
		return equal(actual, expected), nil
	case "not_equals":
		return !equal(actual, expected), nil
	case "contains":
		return contains(actual, expected), nil
	case "not_contains":
		return !contains(actual, expected), nil
	case "greater_than", "greater_or_equal", "less_than", "less_or_equal":
		a, okA := models.ToFloat(actual)
		b, okB := models.ToFloat(expected)

		if !okA || !okB {
			return false, nil
		}

		switch operator {
		case "greater_than":
			return a > b, nil
		case "greater_or_equal":
			return a >= b, nil
		case "less_than":
			return a < b, nil
		default:
			return a <= b, nil
		}
	default:
		return false, base.InvalidConfig("unsupported operator '%s'", operator)
	}
}

func equal(actual, expected any) bool {
	if a, ok := models.ToFloat(actual); ok {
		if b, ok := models.ToFloat(expected); ok {
			return a == b
		}
	}

	if a, ok := actual.(bool); ok {
		if b, err := strconv.ParseBool(models.FormatValue(expected)); err == nil {
			return a == b
		}
	}

	return models.FormatValue(actual) == models.FormatValue(expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == models.FormatValue(expected) {
				return true
			}
		}

		return false
	case map[string]any:
		_, ok := v[models.FormatValue(expected)]

		return ok
	case nil:
		return false
	default:
		return strings.Contains(models.FormatValue(actual), models.FormatValue(expected))
	}
}
