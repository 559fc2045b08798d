package model

// ExecutionMode selects how a tool call is carried out.
type ExecutionMode string

const (
	// ModeMock returns a canned response from the manifest without invoking
	// any handler. No side effects, no breaker interaction.
	ModeMock ExecutionMode = "mock"
	// ModeReal invokes the registered handler.
	ModeReal ExecutionMode = "real"
	// ModeDryRun invokes the handler with dry-run semantics; what that means
	// is handler-defined. The runtime still times and validates the result.
	ModeDryRun ExecutionMode = "dry_run"
)

// ErrorCode is the fixed taxonomy surfaced in ToolExecutionResult.Error.Code.
type ErrorCode string

const (
	ErrToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidOutput      ErrorCode = "INVALID_OUTPUT"
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrPolicyViolation    ErrorCode = "POLICY_VIOLATION"
	ErrCircuitBreakerOpen ErrorCode = "CIRCUIT_BREAKER_OPEN"
	ErrExecutionError     ErrorCode = "EXECUTION_ERROR"
)

// ToolSupports declares which optional execution modes a tool implements.
type ToolSupports struct {
	Mock   bool `json:"mock,omitempty"`
	DryRun bool `json:"dry_run,omitempty"`
}

// ToolManifest is the immutable descriptor of a registered tool.
// Input/Output schemas are JSON Schema documents. Permissions are scope
// strings of the form "domain:action:target".
type ToolManifest struct {
	Name          string           `json:"name"`
	Version       string           `json:"version,omitempty"`
	Description   string           `json:"description,omitempty"`
	InputSchema   map[string]any   `json:"input_schema,omitempty"`
	OutputSchema  map[string]any   `json:"output_schema,omitempty"`
	Permissions   []string         `json:"permissions,omitempty"`
	TimeoutMs     int              `json:"timeout_ms,omitempty"`
	Category      string           `json:"category,omitempty"`
	Supports      ToolSupports     `json:"supports,omitempty"`
	MockResponses []map[string]any `json:"mock_responses,omitempty"`
}

// ToolExecutionRequest is one tool invocation as constructed by the caller.
// It is never persisted directly; its effects are persisted as journal events.
type ToolExecutionRequest struct {
	RequestID   string         `json:"request_id"`
	ToolName    string         `json:"tool_name"`
	ToolVersion string         `json:"tool_version,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Mode        ExecutionMode  `json:"mode"`
	SessionID   string         `json:"session_id"`
	StepID      string         `json:"step_id,omitempty"`
}

// ToolError carries the failure code and a human-readable message.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ToolExecutionResult is returned synchronously to the caller and never
// mutated after return. OK=false always carries a non-nil Error.
type ToolExecutionResult struct {
	OK         bool          `json:"ok"`
	Result     any           `json:"result,omitempty"`
	Error      *ToolError    `json:"error,omitempty"`
	Mode       ExecutionMode `json:"mode"`
	DurationMs int64         `json:"duration_ms"`
}

// PermissionRequest asks the permission engine for a decision covering the
// scopes a single tool call requires.
type PermissionRequest struct {
	RequestID   string   `json:"request_id"`
	SessionID   string   `json:"session_id"`
	StepID      string   `json:"step_id,omitempty"`
	ToolName    string   `json:"tool_name"`
	Permissions []string `json:"permissions"`
}
