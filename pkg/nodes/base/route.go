// Package base holds the routing and config helpers shared by the built-in node executors.
package base

import (
	"fmt"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

// Router provides the default NextNodeID behaviour; executors embed it.
type Router struct{}

// NextNodeID follows the outgoing edges of node.
func (Router) NextNodeID(_ protocol.Node, execCtx *models.ExecutionContext, result protocol.Result, outgoing []models.Edge) (string, error) {
	return FollowEdges(execCtx, result, outgoing)
}

// FollowEdges picks the first conditional edge, in definition order, whose condition matches.
// When none matches the first else edge is taken. A node without outgoing edges ends the run.
func FollowEdges(execCtx *models.ExecutionContext, result protocol.Result, outgoing []models.Edge) (string, error) {
	if len(outgoing) == 0 {
		return "", nil
	}

	elseEdge := -1

	for i, edge := range outgoing {
		if edge.IsElse() {
			if elseEdge < 0 {
				elseEdge = i
			}

			continue
		}

		matched, err := Matches(edge.Condition, execCtx, result)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate edge %s -> %s: %w", edge.From, edge.To, err)
		}

		if matched {
			return edge.To, nil
		}
	}

	if elseEdge >= 0 {
		return outgoing[elseEdge].To, nil
	}

	return "", protocol.ErrNoMatchingEdge
}

// Matches evaluates one edge condition. A condition matches when it equals the
// executor's branch label, ignoring case, or when it is a template that renders truthy.
func Matches(condition string, execCtx *models.ExecutionContext, result protocol.Result) (bool, error) {
	condition = strings.TrimSpace(condition)

	if result.Branch != "" && strings.EqualFold(condition, result.Branch) {
		return true, nil
	}

	if !template.NeedsTemplating(condition) {
		return false, nil
	}

	value, err := template.RenderWithContext(condition, execCtx)
	if err != nil {
		return false, err
	}

	return models.Truthy(value), nil
}
