// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic shared by every automation event.
const Topic = "automation.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const PriorityMetadataKey = "priority"

const (
	// Run lifecycle events.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionSuspendedEvent EventType = "workflow.execution.suspended"
	WorkflowExecutionResumedEvent   EventType = "workflow.execution.resumed"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionCancelledEvent EventType = "workflow.execution.cancelled"

	// Node visit events.
	NodeExecutionFinishedEvent EventType = "node.execution.finished"
	NodeExecutionFailedEvent   EventType = "node.execution.failed"

	// Side effects handed to delivery workers.
	ActionRequestedEvent EventType = "action.requested"

	// Work items for the run queue.
	ExecutionTickRequestedEvent EventType = "execution.tick.requested"

	// Inbound lead events that fire workflow triggers.
	LeadCreatedEvent       EventType = "lead.created"
	LeadStatusChangedEvent EventType = "lead.status_changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	UserID      string         `json:"user_id,omitempty"`
	EntryNodeID string         `json:"entry_node_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Mode        string         `json:"mode"`
	Priority    string         `json:"priority"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

// SuspendReason tells a delay apart from a retry backoff.
type SuspendReason string

const (
	SuspendReasonDelay SuspendReason = "delay"
	SuspendReasonRetry SuspendReason = "retry"
)

type WorkflowExecutionSuspended struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	ResumeAt    time.Time     `json:"resume_at"`
	Reason      SuspendReason `json:"reason"`
	Attempt     int           `json:"attempt,omitempty"`
}

func (w WorkflowExecutionSuspended) GetType() EventType {
	return WorkflowExecutionSuspendedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	NodeID          string `json:"node_id"`
	PauseDurationMs int64  `json:"pause_duration_ms"`
}

func (w WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID   string         `json:"execution_id"`
	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	FinalResults  map[string]any `json:"final_results,omitempty"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	DurationMs    int64         `json:"duration_ms"`
	Error         WorkflowError `json:"error"`
	NodesExecuted int           `json:"nodes_executed"`
}

type WorkflowError struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type WorkflowExecutionCancelled struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	NodeID        string `json:"node_id,omitempty"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (w WorkflowExecutionCancelled) GetType() EventType {
	return WorkflowExecutionCancelledEvent
}

type NodeExecutionFinished struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Outcome     string         `json:"outcome"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

func (n NodeExecutionFinished) GetType() EventType {
	return NodeExecutionFinishedEvent
}

type NodeExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	NodeType    string        `json:"node_type"`
	Error       string        `json:"error"`
	Retryable   bool          `json:"retryable"`
	Duration    time.Duration `json:"duration"`
}

func (n NodeExecutionFailed) GetType() EventType {
	return NodeExecutionFailedEvent
}

// ActionRequested asks a delivery worker to perform a lead side effect.
// Consumers deduplicate on IdempotencyKey.
type ActionRequested struct {
	BaseEvent

	ExecutionID    string         `json:"execution_id"`
	NodeID         string         `json:"node_id"`
	Kind           string         `json:"kind"`
	EntityID       string         `json:"entity_id,omitempty"`
	Params         map[string]any `json:"params"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (a ActionRequested) GetType() EventType {
	return ActionRequestedEvent
}

// ExecutionTickRequested asks any worker to advance a run.
type ExecutionTickRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Priority    string `json:"priority"`
}

func (e ExecutionTickRequested) GetType() EventType {
	return ExecutionTickRequestedEvent
}

// MessageMetadata exposes the priority hint to brokers that route on metadata.
func (e ExecutionTickRequested) MessageMetadata() map[string]string {
	return map[string]string{PriorityMetadataKey: e.Priority}
}

// LeadCreated is published by the lead system when a lead is created.
type LeadCreated struct {
	BaseEvent

	UserID  string         `json:"user_id"`
	LeadID  string         `json:"lead_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (l LeadCreated) GetType() EventType {
	return LeadCreatedEvent
}

// LeadStatusChanged is published by the lead system when a lead changes status.
type LeadStatusChanged struct {
	BaseEvent

	UserID  string         `json:"user_id"`
	LeadID  string         `json:"lead_id"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (l LeadStatusChanged) GetType() EventType {
	return LeadStatusChangedEvent
}
