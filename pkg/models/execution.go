package models

import "time"

// ExecutionStatus is the state of a run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is accepted from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ActiveExecutionStatuses are the non-terminal statuses.
var ActiveExecutionStatuses = []ExecutionStatus{
	ExecutionStatusPending,
	ExecutionStatusRunning,
	ExecutionStatusSuspended,
}

// ExecutionMode governs whether Execute blocks until the first boundary.
type ExecutionMode string

const (
	ExecutionModeSync  ExecutionMode = "sync"
	ExecutionModeAsync ExecutionMode = "async"
)

// Priority is forwarded to the run queue as an opaque hint.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ErrorKind classifies the terminal error of a failed run.
type ErrorKind string

const (
	ErrorKindNodeFailed         ErrorKind = "node_failed"
	ErrorKindRetriesExhausted   ErrorKind = "retries_exhausted"
	ErrorKindNoMatchingEdge     ErrorKind = "no_matching_edge"
	ErrorKindCycleLimitExceeded ErrorKind = "cycle_limit_exceeded"
	ErrorKindRunTimeout         ErrorKind = "run_timeout"
	ErrorKindUnknownNodeType    ErrorKind = "unknown_node_type"
	ErrorKindNodeNotFound       ErrorKind = "node_not_found"
)

// RunError is recorded on a failed run, or on a suspended run waiting for a retry.
type RunError struct {
	Kind       ErrorKind `json:"kind"`
	NodeID     string    `json:"node_id,omitempty"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WorkflowExecution is the durable record of one run.
type WorkflowExecution struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	UserID        string             `json:"user_id"`
	Definition    DefinitionSnapshot `json:"definition"`
	Status        ExecutionStatus    `json:"status"`
	CurrentNodeID string             `json:"current_node_id"`
	Context       *ExecutionContext  `json:"context"`
	Attempt       int                `json:"attempt"`
	MaxRetries    int                `json:"max_retries"`
	Mode          ExecutionMode      `json:"mode"`
	Priority      Priority           `json:"priority"`
	ResumeAt      *time.Time         `json:"resume_at,omitempty"`
	Deadline      *time.Time         `json:"deadline,omitempty"`
	Error         *RunError          `json:"error,omitempty"`
	// A running run belongs to ClaimedBy until LeaseUntil; after that any worker may take it over.
	ClaimedBy     string             `json:"claimed_by,omitempty"`
	LeaseUntil    *time.Time         `json:"lease_until,omitempty"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	clone := *e

	nodes := make(map[string]NodeSpec, len(e.Definition.Nodes))
	for id, node := range e.Definition.Nodes {
		node.Config = deepCopyMap(node.Config)
		nodes[id] = node
	}

	clone.Definition.Nodes = nodes
	clone.Definition.Edges = append([]Edge(nil), e.Definition.Edges...)

	if e.Context != nil {
		clone.Context = e.Context.Snapshot()
	}

	clone.ResumeAt = copyTime(e.ResumeAt)
	clone.Deadline = copyTime(e.Deadline)
	clone.CompletedAt = copyTime(e.CompletedAt)
	clone.LeaseUntil = copyTime(e.LeaseUntil)

	if e.Error != nil {
		runErr := *e.Error
		clone.Error = &runErr
	}

	return &clone
}

// LeaseExpired reports whether a running run may be claimed by another worker at now.
func (e *WorkflowExecution) LeaseExpired(now time.Time) bool {
	return e.LeaseUntil == nil || !e.LeaseUntil.After(now)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

// ExecutionStats aggregates run counts per status for one workflow.
type ExecutionStats struct {
	WorkflowID string                  `json:"workflow_id"`
	Total      int                     `json:"total"`
	ByStatus   map[ExecutionStatus]int `json:"by_status"`
	LastRunAt  *time.Time              `json:"last_run_at,omitempty"`
}
