package action

import (
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

const (
	TagsVariable  = "tags"
	ScoreVariable = "score"
)

var sendEmail = kind{
	id:          protocol.ActionSendEmail,
	name:        "Send Email",
	description: "Sends an e-mail to the lead through the configured delivery collaborator",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":       map[string]any{"type": "string", "examples": []string{"{{ .vars.lead.email }}"}},
			"subject":  map[string]any{"type": "string"},
			"body":     map[string]any{"type": "string"},
			"template": map[string]any{"type": "string", "description": "Id of a stored e-mail template"},
			"from":     map[string]any{"type": "string"},
		},
		"required": []string{"to"},
		"anyOf": []any{
			map[string]any{"required": []string{"subject"}},
			map[string]any{"required": []string{"template"}},
		},
	},
	params: func(config map[string]any, _ *models.ExecutionContext) (map[string]any, error) {
		to, err := base.RequiredString(config, "to")
		if err != nil {
			return nil, err
		}

		if _, err := mail.ParseAddress(to); err != nil {
			return nil, base.InvalidConfig("invalid recipient %q", to)
		}

		params := map[string]any{"to": to}

		for _, key := range []string{"subject", "body", "template", "from"} {
			if value, ok := base.String(config, key); ok {
				params[key] = value
			}
		}

		if params["subject"] == nil && params["template"] == nil {
			return nil, base.InvalidConfig("one of subject or template is required")
		}

		return params, nil
	},
}

var webhook = kind{
	id:          protocol.ActionWebhook,
	name:        "Webhook",
	description: "Calls an external HTTP endpoint",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"method":  map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
			"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"body":    map[string]any{},
			"timeout": map[string]any{"type": "string", "description": "Go duration for the call", "examples": []string{"10s"}},
		},
		"required": []string{"url"},
	},
	params: func(config map[string]any, _ *models.ExecutionContext) (map[string]any, error) {
		raw, err := base.RequiredString(config, "url")
		if err != nil {
			return nil, err
		}

		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, base.InvalidConfig("invalid webhook url %q", raw)
		}

		method := http.MethodPost
		if m, ok := base.String(config, "method"); ok {
			method = strings.ToUpper(m)
		}

		params := map[string]any{"url": raw, "method": method}

		if headers := base.Map(config, "headers"); headers != nil {
			params["headers"] = headers
		}

		if body, ok := config["body"]; ok {
			params["body"] = body
		}

		if timeout, ok := base.String(config, "timeout"); ok {
			params["timeout"] = timeout
		}

		return params, nil
	},
}

var updateField = kind{
	id:          protocol.ActionUpdateField,
	name:        "Update Field",
	description: "Updates a field of the lead record and mirrors it into the run variables",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{"type": "string"},
			"value": map[string]any{},
		},
		"required": []string{"field", "value"},
	},
	params: func(config map[string]any, _ *models.ExecutionContext) (map[string]any, error) {
		field, err := base.RequiredString(config, "field")
		if err != nil {
			return nil, err
		}

		value, ok := config["value"]
		if !ok {
			return nil, base.InvalidConfig("missing required field 'value'")
		}

		return map[string]any{"field": field, "value": value}, nil
	},
	commit: func(params map[string]any, execCtx *models.ExecutionContext) {
		execCtx.Set(params["field"].(string), params["value"])
	},
}

var assignTag = kind{
	id:          protocol.ActionAssignTag,
	name:        "Assign Tag",
	description: "Adds one or more tags to the lead",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag":  map[string]any{"type": "string"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"tag"}},
			map[string]any{"required": []string{"tags"}},
		},
	},
	params: func(config map[string]any, _ *models.ExecutionContext) (map[string]any, error) {
		tags := append(base.Strings(config, "tag"), base.Strings(config, "tags")...)
		if len(tags) == 0 {
			return nil, base.InvalidConfig("one of tag or tags is required")
		}

		list := make([]any, len(tags))
		for i, tag := range tags {
			list[i] = tag
		}

		return map[string]any{"tags": list}, nil
	},
	commit: func(params map[string]any, execCtx *models.ExecutionContext) {
		current := base.Strings(execCtx.Variables, TagsVariable)
		seen := make(map[string]bool, len(current))

		merged := make([]any, 0, len(current))
		for _, tag := range current {
			seen[tag] = true
			merged = append(merged, tag)
		}

		for _, tag := range params["tags"].([]any) {
			s := tag.(string)
			if !seen[s] {
				seen[s] = true
				merged = append(merged, s)
			}
		}

		execCtx.Set(TagsVariable, merged)
	},
}

var assignScore = kind{
	id:          protocol.ActionAssignScore,
	name:        "Assign Score",
	description: "Adds to or sets the lead score",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{"type": []string{"number", "string"}},
			"mode":  map[string]any{"type": "string", "enum": []string{"add", "set"}},
		},
		"required": []string{"score"},
	},
	params: func(config map[string]any, execCtx *models.ExecutionContext) (map[string]any, error) {
		score, ok := base.Float(config, "score")
		if !ok {
			return nil, base.InvalidConfig("score must be a number")
		}

		mode := "add"
		if m, ok := base.String(config, "mode"); ok {
			mode = m
		}

		current, _ := models.ToFloat(execCtx.Get(ScoreVariable, 0))

		var next float64

		switch mode {
		case "add":
			next = current + score
		case "set":
			next = score
		default:
			return nil, base.InvalidConfig("unsupported score mode '%s'", mode)
		}

		return map[string]any{"score": score, "mode": mode, "previous": current, "value": next}, nil
	},
	commit: func(params map[string]any, execCtx *models.ExecutionContext) {
		execCtx.Set(ScoreVariable, params["value"])
	},
}

// kinds lists every action kind in registration order.
func kinds() []kind {
	return []kind{sendEmail, webhook, updateField, assignTag, assignScore}
}
