// Package workflow loads workflow definitions and runs them: the walker advances a run one node
// at a time, the scheduler drives the run state machine and the engine composes both.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Validation rule names, in evaluation order.
const (
	RuleEntryPoint = "entry_point"
	RuleEdges      = "edges"
	RuleNodeTypes  = "node_types"
	RuleNodeConfig = "node_config"
	RuleTriggers   = "triggers"
)

// NodeResolver is the part of the node registry the engine needs.
type NodeResolver interface {
	Resolve(ctx context.Context, nodeType string) (protocol.NodeExecutor, error)
	Has(nodeType string) bool
	ValidateConfig(nodeType string, config map[string]any) error
}

// Definition is a workflow that passed validation.
type Definition struct {
	*models.WorkflowDefinition

	EntryNodeID string
	// Warnings lists problems that do not prevent running, such as unreachable nodes.
	Warnings []string
}

// Snapshot returns the graph copy a new run executes.
func (d *Definition) Snapshot() models.DefinitionSnapshot {
	return d.WorkflowDefinition.Snapshot()
}

// Load validates def. Rules run in order and the first failure is returned as a *ValidationError.
// Cycles are allowed; the walker bounds them at run time.
func Load(def *models.WorkflowDefinition, nodes NodeResolver) (*Definition, error) {
	if def == nil {
		return nil, &ValidationError{Rule: RuleEntryPoint, Err: ErrMultipleOrNoEntryPoints}
	}

	entries := def.EntryNodeIDs()
	if len(entries) != 1 {
		return nil, &ValidationError{
			Rule: RuleEntryPoint,
			Err:  fmt.Errorf("%w: found %d", ErrMultipleOrNoEntryPoints, len(entries)),
		}
	}

	for i := range def.Edges {
		edge := def.Edges[i]

		for _, endpoint := range []string{edge.From, edge.To} {
			if _, ok := def.Nodes[endpoint]; !ok {
				return nil, &ValidationError{
					Rule: RuleEdges,
					Edge: &edge,
					Err:  fmt.Errorf("%w: %q", ErrDanglingEdge, endpoint),
				}
			}
		}
	}

	ids := nodeIDs(def)

	for _, id := range ids {
		nodeType := def.Nodes[id].Type
		if !nodes.Has(nodeType) {
			return nil, &ValidationError{
				Rule:   RuleNodeTypes,
				NodeID: id,
				Err:    fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType),
			}
		}
	}

	for _, id := range ids {
		node := def.Nodes[id]

		err := nodes.ValidateConfig(node.Type, node.Config)
		if err != nil {
			if !errors.Is(err, ErrInvalidNodeConfig) {
				err = fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err)
			}

			return nil, &ValidationError{Rule: RuleNodeConfig, NodeID: id, Err: err}
		}
	}

	for _, trigger := range def.Triggers {
		if trigger.Type != models.TriggerTypeSchedule {
			continue
		}

		_, err := cron.ParseStandard(trigger.CronExpression())
		if err != nil {
			return nil, &ValidationError{
				Rule: RuleTriggers,
				Err:  fmt.Errorf("%w %q: %v", ErrInvalidCronExpression, trigger.CronExpression(), err),
			}
		}
	}

	return &Definition{
		WorkflowDefinition: def,
		EntryNodeID:        entries[0],
		Warnings:           unreachable(def, entries[0], ids),
	}, nil
}

// LoadJSON decodes and validates a JSON document.
func LoadJSON(data []byte, nodes NodeResolver) (*Definition, error) {
	var def models.WorkflowDefinition

	err := json.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	return Load(&def, nodes)
}

// LoadYAML decodes and validates a YAML document.
func LoadYAML(data []byte, nodes NodeResolver) (*Definition, error) {
	var def models.WorkflowDefinition

	err := yaml.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	return Load(&def, nodes)
}

func nodeIDs(def *models.WorkflowDefinition) []string {
	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func unreachable(def *models.WorkflowDefinition, entry string, ids []string) []string {
	adjacent := make(map[string][]string, len(def.Nodes))
	for _, edge := range def.Edges {
		adjacent[edge.From] = append(adjacent[edge.From], edge.To)
	}

	seen := map[string]bool{entry: true}
	pending := []string{entry}

	for len(pending) > 0 {
		current := pending[0]
		pending = pending[1:]

		for _, next := range adjacent[current] {
			if !seen[next] {
				seen[next] = true
				pending = append(pending, next)
			}
		}
	}

	var warnings []string

	for _, id := range ids {
		if !seen[id] {
			warnings = append(warnings, fmt.Sprintf("node %s is unreachable from entry node %s", id, entry))
		}
	}

	return warnings
}
