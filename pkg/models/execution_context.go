package models

import (
	"strings"
	"time"
)

// HistoryOutcome describes how a node visit ended.
type HistoryOutcome string

const (
	OutcomeSuccess   HistoryOutcome = "success"
	OutcomeSuspended HistoryOutcome = "suspended"
	OutcomeError     HistoryOutcome = "error"
)

// BranchOutcome is the outcome recorded when a node routed through a labelled edge.
func BranchOutcome(label string) HistoryOutcome {
	return HistoryOutcome("branch:" + label)
}

// HistoryEntry records one node visit.
type HistoryEntry struct {
	NodeID    string         `json:"node_id"`
	NodeType  string         `json:"node_type"`
	EnteredAt time.Time      `json:"entered_at"`
	LeftAt    *time.Time     `json:"left_at,omitempty"`
	Outcome   HistoryOutcome `json:"outcome,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ExecutionContext is the per-run data bag threaded through node invocations.
type ExecutionContext struct {
	RunID           string         `json:"run_id"`
	WorkflowID      string         `json:"workflow_id"`
	TriggerEntityID string         `json:"trigger_entity_id,omitempty"`
	Trigger         map[string]any `json:"trigger,omitempty"`
	Variables       map[string]any `json:"variables"`
	History         []HistoryEntry `json:"history"`
	Visits          int            `json:"visits"`
	NodeVisits      map[string]int `json:"node_visits,omitempty"`
}

// NewExecutionContext seeds a context from the workflow defaults and the trigger payload.
// Payload keys override defaults.
func NewExecutionContext(runID, workflowID string, defaults, payload map[string]any) *ExecutionContext {
	variables := deepCopyMap(defaults)
	if variables == nil {
		variables = make(map[string]any, len(payload))
	}

	for key, value := range deepCopyMap(payload) {
		variables[key] = value
	}

	return &ExecutionContext{
		RunID:           runID,
		WorkflowID:      workflowID,
		TriggerEntityID: triggerEntityID(payload),
		Trigger:         deepCopyMap(payload),
		Variables:       variables,
		History:         []HistoryEntry{},
		NodeVisits:      map[string]int{},
	}
}

func triggerEntityID(payload map[string]any) string {
	for _, key := range []string{"entity_id", "lead_id"} {
		switch id := payload[key].(type) {
		case string:
			if id != "" {
				return id
			}
		case nil:
		default:
			return formatScalar(id)
		}
	}

	return ""
}

// Get returns the variable stored under key or def when it is absent.
func (c *ExecutionContext) Get(key string, def any) any {
	if value, ok := c.Variables[key]; ok {
		return value
	}

	return def
}

// Lookup resolves a dotted path such as "lead.score" through nested variable maps.
func (c *ExecutionContext) Lookup(path string) (any, bool) {
	var current any = c.Variables

	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Set stores value under key, overwriting any earlier write.
func (c *ExecutionContext) Set(key string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	c.Variables[key] = value
}

// Snapshot returns a deep copy that shares no mutable state with c.
func (c *ExecutionContext) Snapshot() *ExecutionContext {
	history := make([]HistoryEntry, len(c.History))
	for i, entry := range c.History {
		if entry.LeftAt != nil {
			left := *entry.LeftAt
			entry.LeftAt = &left
		}

		history[i] = entry
	}

	nodeVisits := make(map[string]int, len(c.NodeVisits))
	for id, n := range c.NodeVisits {
		nodeVisits[id] = n
	}

	variables := deepCopyMap(c.Variables)
	if variables == nil {
		variables = map[string]any{}
	}

	return &ExecutionContext{
		RunID:           c.RunID,
		WorkflowID:      c.WorkflowID,
		TriggerEntityID: c.TriggerEntityID,
		Trigger:         deepCopyMap(c.Trigger),
		Variables:       variables,
		History:         history,
		Visits:          c.Visits,
		NodeVisits:      nodeVisits,
	}
}

// Restore replaces the contents of c with a copy of snapshot.
func (c *ExecutionContext) Restore(snapshot *ExecutionContext) {
	*c = *snapshot.Snapshot()
}

// Enter appends the history entry for a node visit and bumps the visit counters.
func (c *ExecutionContext) Enter(nodeID, nodeType string, at time.Time) {
	if c.NodeVisits == nil {
		c.NodeVisits = map[string]int{}
	}

	c.Visits++
	c.NodeVisits[nodeID]++
	c.History = append(c.History, HistoryEntry{
		NodeID:    nodeID,
		NodeType:  nodeType,
		EnteredAt: at,
	})
}

// Leave closes the most recent history entry.
func (c *ExecutionContext) Leave(outcome HistoryOutcome, err error, at time.Time) {
	if len(c.History) == 0 {
		return
	}

	entry := &c.History[len(c.History)-1]
	entry.LeftAt = &at
	entry.Outcome = outcome

	if err != nil {
		entry.Error = err.Error()
	}
}

// VisitedNodes returns the node ids in visit order.
func (c *ExecutionContext) VisitedNodes() []string {
	ids := make([]string, len(c.History))
	for i, entry := range c.History {
		ids[i] = entry.NodeID
	}

	return ids
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = deepCopyValue(value)
	}

	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}

		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)

		return out
	default:
		return v
	}
}
