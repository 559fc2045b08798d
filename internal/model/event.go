package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the dotted category of a journal event.
type EventType string

const (
	// Permission gate events.
	EventPermissionRequested EventType = "permission.requested"
	EventPermissionGranted   EventType = "permission.granted"
	EventPermissionDenied    EventType = "permission.denied"
	EventObservedExecution   EventType = "permission.observed_execution"

	// Tool execution events.
	EventToolStarted   EventType = "tool.started"
	EventToolSucceeded EventType = "tool.succeeded"
	EventToolFailed    EventType = "tool.failed"

	// Policy events.
	EventPolicyViolated EventType = "policy.violated"
)

// JournalEvent is one entry in the hash-chained journal.
// Source of truth. Never mutated or deleted.
//
// Hash covers (prev_hash, event_id, session_id, timestamp, type, payload);
// see internal/integrity for the canonical encoding.
type JournalEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Hash      string         `json:"hash"`
	PrevHash  string         `json:"prev_hash"`
}

// PermissionRequestedPayload is the payload for permission.requested events.
type PermissionRequestedPayload struct {
	RequestID string   `json:"request_id"`
	StepID    string   `json:"step_id,omitempty"`
	ToolName  string   `json:"tool_name"`
	Scopes    []string `json:"scopes"`
}

// PermissionGrantedPayload is the payload for permission.granted events.
type PermissionGrantedPayload struct {
	RequestID string       `json:"request_id"`
	ToolName  string       `json:"tool_name"`
	Scopes    []string     `json:"scopes"`
	Kind      DecisionKind `json:"kind"`
	Cached    bool         `json:"cached,omitempty"`
}

// PermissionDeniedPayload is the payload for permission.denied events.
type PermissionDeniedPayload struct {
	RequestID string   `json:"request_id"`
	ToolName  string   `json:"tool_name"`
	Scopes    []string `json:"scopes"`
	Reason    string   `json:"reason,omitempty"`
}

// ObservedExecutionPayload is the payload for permission.observed_execution
// bookkeeping events emitted alongside allow_observed grants.
type ObservedExecutionPayload struct {
	RequestID      string `json:"request_id"`
	ToolName       string `json:"tool_name"`
	Scope          string `json:"scope,omitempty"`
	TelemetryLevel string `json:"telemetry_level,omitempty"`
}

// ToolStartedPayload is the payload for tool.started events.
type ToolStartedPayload struct {
	RequestID string        `json:"request_id"`
	StepID    string        `json:"step_id,omitempty"`
	ToolName  string        `json:"tool_name"`
	Mode      ExecutionMode `json:"mode"`
}

// ToolSucceededPayload is the payload for tool.succeeded events.
type ToolSucceededPayload struct {
	RequestID  string        `json:"request_id"`
	ToolName   string        `json:"tool_name"`
	Mode       ExecutionMode `json:"mode"`
	DurationMs int64         `json:"duration_ms"`
}

// ToolFailedPayload is the payload for tool.failed events.
type ToolFailedPayload struct {
	RequestID  string        `json:"request_id"`
	ToolName   string        `json:"tool_name"`
	Mode       ExecutionMode `json:"mode"`
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	DurationMs int64         `json:"duration_ms"`
}

// PolicyViolatedPayload is the payload for policy.violated events.
type PolicyViolatedPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Detail    string `json:"detail"`
}
