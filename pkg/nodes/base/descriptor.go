package base

import (
	"context"

	"github.com/leadpilot/automation/pkg/protocol"
)

// Descriptor is a NodeFactory for executors that need nothing but static metadata.
type Descriptor struct {
	Type    string
	Title   string
	Summary string
	Config  map[string]any
	New     func() protocol.NodeExecutor
}

func (d *Descriptor) Create(context.Context) (protocol.NodeExecutor, error) {
	return d.New(), nil
}

func (d *Descriptor) ID() string {
	return d.Type
}

func (d *Descriptor) Name() string {
	return d.Title
}

func (d *Descriptor) Description() string {
	return d.Summary
}

// Schema defaults to an object schema without properties.
func (d *Descriptor) Schema() map[string]any {
	if d.Config == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return d.Config
}
