package workflow

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
)

// TriggerMatcher matches business events against the triggers of workflow definitions.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult is a workflow whose trigger accepted the event.
type MatchResult struct {
	Workflow *models.WorkflowDefinition
	Trigger  models.TriggerSpec
	// Score grows with the number of filters the event satisfied.
	Score int
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &TriggerMatcher{logger: logger.With("module", "trigger_matcher")}
}

// MatchWorkflows returns the active workflows with a trigger for the event, best match first.
// Each workflow matches at most once.
func (tm *TriggerMatcher) MatchWorkflows(event models.TriggerEvent, workflows []*models.WorkflowDefinition) []MatchResult {
	var results []MatchResult

	for _, workflow := range workflows {
		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		best := -1

		var matched models.TriggerSpec

		for _, trigger := range workflow.Triggers {
			score, ok := tm.matchTrigger(event, trigger)
			if ok && score > best {
				best = score
				matched = trigger
			}
		}

		if best >= 0 {
			results = append(results, MatchResult{Workflow: workflow, Trigger: matched, Score: best})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Workflow.ID < results[j].Workflow.ID
	})

	tm.logger.Debug("completed trigger matching",
		"trigger_type", event.Type,
		"workflows_count", len(workflows),
		"matches_found", len(results))

	return results
}

// matchTrigger requires the same trigger type. Every config entry other than "cron" is a
// filter on the event payload; all filters must hold.
func (tm *TriggerMatcher) matchTrigger(event models.TriggerEvent, trigger models.TriggerSpec) (int, bool) {
	if trigger.Type != event.Type {
		return 0, false
	}

	score := 100
	payload := &models.ExecutionContext{Variables: event.Payload}

	for key, expected := range trigger.Config {
		if key == "cron" {
			continue
		}

		actual, ok := payload.Lookup(key)
		if !ok || !matchFilter(models.FormatValue(actual), expected) {
			return 0, false
		}

		score += 25
	}

	return score, true
}

// matchFilter accepts a single pattern or a list of alternatives.
func matchFilter(actual string, expected any) bool {
	switch v := expected.(type) {
	case []any:
		for _, alternative := range v {
			if matchPattern(actual, models.FormatValue(alternative)) {
				return true
			}
		}

		return false
	case []string:
		for _, alternative := range v {
			if matchPattern(actual, alternative) {
				return true
			}
		}

		return false
	default:
		return matchPattern(actual, models.FormatValue(v))
	}
}

// matchPattern supports a single "*" wildcard.
func matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if prefix, suffix, found := strings.Cut(pattern, "*"); found {
		return len(value) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
	}

	return strings.EqualFold(value, pattern)
}
