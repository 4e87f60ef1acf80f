// Package models defines the core domain models for lead workflow automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable by triggers
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Final, never executable again
)

// Valid reports whether the status is one of the known values.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived:
		return true
	default:
		return false
	}
}

// WorkflowDefinition is the stored graph: nodes keyed by id and an ordered edge list.
type WorkflowDefinition struct {
	ID          string              `json:"id"                    yaml:"id"`
	Name        string              `json:"name"                  yaml:"name"                  validate:"required,min=3"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string              `json:"owner,omitempty"       yaml:"owner,omitempty"`
	Status      WorkflowStatus      `json:"status"                yaml:"status"                validate:"required,oneof=draft active paused archived"`
	Nodes       map[string]NodeSpec `json:"nodes"                 yaml:"nodes"                 validate:"required,min=1,dive"`
	Edges       []Edge              `json:"edges"                 yaml:"edges"                 validate:"dive"`
	Triggers    []TriggerSpec       `json:"triggers,omitempty"    yaml:"triggers,omitempty"    validate:"dive"`
	Variables   map[string]any      `json:"variables,omitempty"   yaml:"variables,omitempty"`
	CreatedAt   time.Time           `json:"created_at"            yaml:"created_at,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"            yaml:"updated_at,omitempty"`
}

// EntryNodeIDs returns the ids of every node flagged as entry, sorted.
func (d *WorkflowDefinition) EntryNodeIDs() []string {
	var ids []string

	for id, node := range d.Nodes {
		if node.IsEntry {
			ids = append(ids, id)
		}
	}

	sortStrings(ids)

	return ids
}

// Snapshot copies the graph so that later edits to the definition do not leak into a run.
func (d *WorkflowDefinition) Snapshot() DefinitionSnapshot {
	nodes := make(map[string]NodeSpec, len(d.Nodes))
	for id, node := range d.Nodes {
		node.Config = deepCopyMap(node.Config)
		nodes[id] = node
	}

	edges := make([]Edge, len(d.Edges))
	copy(edges, d.Edges)

	entry := ""
	if ids := d.EntryNodeIDs(); len(ids) == 1 {
		entry = ids[0]
	}

	return DefinitionSnapshot{
		EntryNodeID: entry,
		Nodes:       nodes,
		Edges:       edges,
	}
}

// DefinitionSnapshot is the immutable copy of the graph captured when a run starts.
type DefinitionSnapshot struct {
	EntryNodeID string              `json:"entry_node_id"`
	Nodes       map[string]NodeSpec `json:"nodes"`
	Edges       []Edge              `json:"edges"`
}

// Outgoing returns the edges leaving nodeID in definition order.
func (s DefinitionSnapshot) Outgoing(nodeID string) []Edge {
	var edges []Edge

	for _, edge := range s.Edges {
		if edge.From == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// TriggerType identifies what starts a workflow.
type TriggerType string

const (
	TriggerTypeManual            TriggerType = "manual"
	TriggerTypeLeadCreated       TriggerType = "lead_created"
	TriggerTypeLeadStatusChanged TriggerType = "lead_status_changed"
	TriggerTypeSchedule          TriggerType = "schedule"
)

// TriggerSpec declares an event or schedule that starts the workflow.
type TriggerSpec struct {
	Type   TriggerType    `json:"type"             yaml:"type"             validate:"required,oneof=manual lead_created lead_status_changed schedule"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// CronExpression returns the configured cron expression of a schedule trigger.
func (t TriggerSpec) CronExpression() string {
	if t.Type != TriggerTypeSchedule {
		return ""
	}

	expr, _ := t.Config["cron"].(string)

	return expr
}
