package workflow

import (
	"errors"
	"fmt"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/registry"
)

// Validation errors. They surface synchronously and never create a run.
var (
	ErrMultipleOrNoEntryPoints = errors.New("workflow must have exactly one entry node")
	ErrDanglingEdge            = errors.New("edge references a node that does not exist")
	ErrUnknownNodeType         = registry.ErrUnknownNodeType
	ErrInvalidNodeConfig       = registry.ErrInvalidNodeConfig
	ErrInvalidCronExpression   = errors.New("invalid cron expression")
)

// Run errors. They terminate the execution and are recorded on it.
var (
	ErrCycleLimitExceeded = errors.New("node visit limit exceeded")
	ErrRunTimeout         = errors.New("run deadline exceeded")
	ErrNoMatchingEdge     = protocol.ErrNoMatchingEdge
	ErrNodeNotFound       = errors.New("current node not found in definition")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

// Caller errors.
var (
	ErrRunAlreadyTerminal      = errors.New("run already terminal")
	ErrWorkflowNotActive       = errors.New("workflow is not active")
	ErrConcurrencyLimit        = errors.New("active run limit reached")
	ErrInvalidStatusTransition = errors.New("invalid workflow status transition")
	ErrInvalidCommand          = errors.New("invalid command")
)

// ValidationError reports the first definition rule that failed.
type ValidationError struct {
	Rule   string
	NodeID string
	Edge   *models.Edge
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Edge != nil:
		return fmt.Sprintf("%s: edge %s -> %s: %v", e.Rule, e.Edge.From, e.Edge.To, e.Err)
	case e.NodeID != "":
		return fmt.Sprintf("%s: node %s: %v", e.Rule, e.NodeID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Rule, e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err comes from definition or command validation.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr) || errors.Is(err, ErrInvalidCommand)
}

// errorKind maps a run-terminating error to the kind recorded on the execution.
func errorKind(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrCycleLimitExceeded):
		return models.ErrorKindCycleLimitExceeded
	case errors.Is(err, ErrRunTimeout):
		return models.ErrorKindRunTimeout
	case errors.Is(err, ErrNoMatchingEdge):
		return models.ErrorKindNoMatchingEdge
	case errors.Is(err, ErrUnknownNodeType):
		return models.ErrorKindUnknownNodeType
	case errors.Is(err, ErrNodeNotFound):
		return models.ErrorKindNodeNotFound
	case errors.Is(err, ErrRetriesExhausted):
		return models.ErrorKindRetriesExhausted
	default:
		return models.ErrorKindNodeFailed
	}
}
