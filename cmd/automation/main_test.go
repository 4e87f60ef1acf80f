package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	err := newApp(&out).Run(context.Background(), append([]string{"automation"}, args...))

	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidate_YAML(t *testing.T) {
	path := writeFile(t, "welcome.yaml", `
id: welcome
name: Welcome
status: active
nodes:
  start: {type: start, is_entry: true}
  tag: {type: assign_tag, config: {tag: welcomed}}
  orphan: {type: log, config: {message: never}}
edges:
  - {from: start, to: tag}
`)

	out, err := run(t, "validate", "--file", path)

	require.NoError(t, err)
	assert.Contains(t, out, "is valid (entry node start)")
	assert.Contains(t, out, "warning: node orphan is unreachable from entry node start")
}

func TestValidate_JSONInvalid(t *testing.T) {
	path := writeFile(t, "broken.json", `{
		"id": "broken",
		"name": "Broken",
		"nodes": {"start": {"type": "start"}},
		"edges": []
	}`)

	_, err := run(t, "validate", "-f", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "is invalid")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := run(t, "validate", "--file", filepath.Join(t.TempDir(), "missing.json"))

	assert.ErrorContains(t, err, "failed to read")
}

func TestNodes(t *testing.T) {
	out, err := run(t, "nodes")

	require.NoError(t, err)

	for _, nodeType := range []string{"start", "delay", "condition", "switch", "webhook", "assign_score"} {
		assert.Contains(t, out, nodeType)
	}
}
