// Package delay provides the wait node. It never sleeps: it returns a resume time instead.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

var units = []struct {
	key  string
	unit time.Duration
}{
	{"seconds", time.Second},
	{"delay", time.Second}, // legacy name for seconds
	{"minutes", time.Minute},
	{"hours", time.Hour},
	{"days", 24 * time.Hour},
}

// Node suspends the run for a configured duration or until a configured time.
type Node struct {
	base.Router

	clock clockwork.Clock
}

// NewNode creates a delay node reading time from clock.
func NewNode(clock clockwork.Clock) *Node {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Node{clock: clock}
}

// Execute computes the resume time. A resume time that is not in the future lets the run continue.
func (n *Node) Execute(_ context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	now := n.clock.Now().UTC()

	resumeAt, err := n.resumeAt(node.Config, execCtx, now)
	if err != nil {
		return protocol.Result{}, err
	}

	if !resumeAt.After(now) {
		return protocol.Result{Output: map[string]any{"waited": false}}, nil
	}

	execCtx.Set("delayed_until", resumeAt.Format(time.RFC3339))

	return protocol.Result{
		Output:       map[string]any{"resume_at": resumeAt},
		SuspendUntil: &resumeAt,
	}, nil
}

func (n *Node) resumeAt(config map[string]any, execCtx *models.ExecutionContext, now time.Time) (time.Time, error) {
	if until, ok := base.String(config, "until"); ok {
		rendered, err := template.RenderStringWithContext(until, execCtx)
		if err != nil {
			return time.Time{}, base.InvalidConfig("until: %v", err)
		}

		at, err := time.Parse(time.RFC3339, rendered)
		if err != nil {
			return time.Time{}, base.InvalidConfig("until must be an RFC3339 time: %v", err)
		}

		return at.UTC(), nil
	}

	total, err := Duration(config)
	if err != nil {
		return time.Time{}, err
	}

	return now.Add(total), nil
}

// Duration sums the configured delay. "duration" takes a Go duration string;
// seconds, minutes, hours and days take numbers and add up.
func Duration(config map[string]any) (time.Duration, error) {
	if raw, ok := base.String(config, "duration"); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, base.InvalidConfig("duration: %v", err)
		}

		if d < 0 {
			return 0, base.InvalidConfig("duration must not be negative")
		}

		return d, nil
	}

	var (
		total time.Duration
		found bool
	)

	for _, u := range units {
		raw, present := config[u.key]
		if !present {
			continue
		}

		value, ok := models.ToFloat(raw)
		if !ok || value < 0 {
			return 0, base.InvalidConfig("%s must be a non-negative number, got %v", u.key, raw)
		}

		found = true
		total += time.Duration(value * float64(u.unit))
	}

	if !found {
		return 0, base.InvalidConfig("one of duration, until, %s is required", unitKeys())
	}

	return total, nil
}

func unitKeys() string {
	keys := ""
	for i, u := range units {
		if i > 0 {
			keys += ", "
		}

		keys += u.key
	}

	return fmt.Sprintf("[%s]", keys)
}
