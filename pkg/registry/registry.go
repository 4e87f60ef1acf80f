// Package registry maps node type strings to node executor factories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leadpilot/automation/pkg/protocol"
)

var (
	// ErrUnknownNodeType indicates that no factory is registered for a node type.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDuplicateNodeType indicates a second registration for the same node type.
	ErrDuplicateNodeType = errors.New("node type already registered")
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.NodeFactory
	executors map[string]protocol.NodeExecutor
	schemas   *schemaCache
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[string]protocol.NodeFactory),
		executors: make(map[string]protocol.NodeExecutor),
		schemas:   newSchemaCache(),
	}
}

// Register adds a node factory. Registering the same type twice is an error.
func (r *Registry) Register(factory protocol.NodeFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodeType := factory.ID()
	if _, exists := r.factories[nodeType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNodeType, nodeType)
	}

	r.factories[nodeType] = factory
	r.logger.Debug("registered node type", "type", nodeType)

	return nil
}

// RegisterNode registers a factory, panicking on duplicates. Used for built-in wiring at startup.
func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	if err := r.Register(factory); err != nil {
		panic(err)
	}
}

// RegisterFunc registers a plain constructor under nodeType.
func (r *Registry) RegisterFunc(nodeType string, create func() protocol.NodeExecutor) error {
	return r.Register(&funcFactory{id: nodeType, create: create})
}

// Resolve returns the executor for nodeType. Executors are stateless, so one instance is
// created per type and reused for every visit.
func (r *Registry) Resolve(ctx context.Context, nodeType string) (protocol.NodeExecutor, error) {
	r.mu.RLock()
	executor, cached := r.executors[nodeType]
	factory, registered := r.factories[nodeType]
	r.mu.RUnlock()

	if cached {
		return executor, nil
	}

	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	executor, err := factory.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor for node type %s: %w", nodeType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.executors[nodeType]; ok {
		return existing, nil
	}

	r.executors[nodeType] = executor

	return executor, nil
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[nodeType]

	return ok
}

// NodeTypes returns all registered node types, sorted.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for nodeType := range r.factories {
		types = append(types, nodeType)
	}

	sort.Strings(types)

	return types
}

// Factories returns the registered factories sorted by type.
func (r *Registry) Factories() []protocol.NodeFactory {
	types := r.NodeTypes()

	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.NodeFactory, 0, len(types))
	for _, nodeType := range types {
		factories = append(factories, r.factories[nodeType])
	}

	return factories
}

// HealthCheck verifies that the registry has node types to run.
func (r *Registry) HealthCheck() error {
	if len(r.NodeTypes()) == 0 {
		return errors.New("no node types registered")
	}

	return nil
}

type funcFactory struct {
	id     string
	create func() protocol.NodeExecutor
}

func (f *funcFactory) Create(context.Context) (protocol.NodeExecutor, error) {
	return f.create(), nil
}

func (f *funcFactory) ID() string          { return f.id }
func (f *funcFactory) Name() string        { return f.id }
func (f *funcFactory) Description() string { return "" }
func (f *funcFactory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}
