package models

import "sort"

// NodeSpec declares a single node of the graph.
type NodeSpec struct {
	Type     string         `json:"type"               yaml:"type"               validate:"required"`
	Name     string         `json:"name,omitempty"     yaml:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty"   yaml:"config,omitempty"`
	IsEntry  bool           `json:"is_entry,omitempty" yaml:"is_entry,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// Position is editor layout metadata; the engine ignores it.
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Edge connects two nodes. An empty Condition marks the else edge.
type Edge struct {
	From      string `json:"from"                yaml:"from"                validate:"required"`
	To        string `json:"to"                  yaml:"to"                  validate:"required"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// IsElse reports whether the edge has no condition.
func (e Edge) IsElse() bool {
	return e.Condition == ""
}

func sortStrings(values []string) {
	sort.Strings(values)
}
