package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidNodeConfig indicates a node config that does not satisfy its type's schema.
var ErrInvalidNodeConfig = errors.New("invalid node config")

type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{schemas: make(map[string]*gojsonschema.Schema)}
}

// ValidateConfig checks config against the JSON schema of nodeType.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	r.mu.RLock()
	factory, ok := r.factories[nodeType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	schema, err := r.schemas.compile(nodeType, factory.Schema())
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidNodeConfig, strings.Join(messages, "; "))
}

func (c *schemaCache) compile(nodeType string, raw map[string]any) (*gojsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if schema, ok := c.schemas[nodeType]; ok {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for node type %s: %w", nodeType, err)
	}

	c.schemas[nodeType] = schema

	return schema, nil
}
