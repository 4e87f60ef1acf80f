package base

import (
	"fmt"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
)

// InvalidConfig builds a permanent config error for a node.
func InvalidConfig(format string, args ...any) error {
	return protocol.Permanent(fmt.Errorf("%w: %s", protocol.ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

// String returns config[key] as a trimmed string.
func String(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok || value == nil {
		return "", false
	}

	s := strings.TrimSpace(models.FormatValue(value))

	return s, s != ""
}

// RequiredString returns config[key] or a permanent config error.
func RequiredString(config map[string]any, key string) (string, error) {
	s, ok := String(config, key)
	if !ok {
		return "", InvalidConfig("missing required field '%s'", key)
	}

	return s, nil
}

// Float returns config[key] as a float64.
func Float(config map[string]any, key string) (float64, bool) {
	value, ok := config[key]
	if !ok {
		return 0, false
	}

	return models.ToFloat(value)
}

// Map returns config[key] as a map.
func Map(config map[string]any, key string) map[string]any {
	m, _ := config[key].(map[string]any)

	return m
}

// Strings returns config[key] as a list of strings; a single string becomes a one-element list.
func Strings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}

		return []string{strings.TrimSpace(v)}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s := strings.TrimSpace(models.FormatValue(item)); s != "" {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
