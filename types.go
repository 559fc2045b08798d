package torii

import (
	"github.com/ashita-ai/torii/internal/executor"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/permission"
)

// The public API works directly with the domain types. Aliases keep the
// import graph one-directional (root imports internal, never the reverse)
// without a parallel set of mirror structs.
type (
	// ToolManifest describes a registered tool: schemas, required permission
	// scopes, timeout, category, and supported execution modes.
	ToolManifest = model.ToolManifest
	// ToolSupports declares which optional execution modes a tool implements.
	ToolSupports = model.ToolSupports
	// ToolExecutionRequest is one tool invocation.
	ToolExecutionRequest = model.ToolExecutionRequest
	// ToolExecutionResult is the synchronous outcome of one invocation.
	ToolExecutionResult = model.ToolExecutionResult
	// ToolError carries the failure code and message for a failed invocation.
	ToolError = model.ToolError
	// ExecutionMode selects mock, real, or dry_run execution.
	ExecutionMode = model.ExecutionMode
	// ErrorCode is the fixed failure taxonomy.
	ErrorCode = model.ErrorCode

	// PermissionRequest asks the approval surface for a decision.
	PermissionRequest = model.PermissionRequest
	// Decision is the tagged approval variant.
	Decision = model.Decision
	// DecisionKind tags the decision variant.
	DecisionKind = model.DecisionKind
	// Constraints narrow a grant; they only ever tighten a call.
	Constraints = model.Constraints
	// Alternative names a substitute tool offered with a denial.
	Alternative = model.Alternative
	// PromptFunc obtains decisions from the approval surface.
	PromptFunc = permission.PromptFunc

	// JournalEvent is one entry in the hash-chained journal.
	JournalEvent = model.JournalEvent
	// EventType is the dotted journal event category.
	EventType = model.EventType

	// Handler executes one tool call under the effective policy.
	Handler = executor.Handler
	// ExecPolicy carries the path, command, and endpoint allowlists handlers
	// enforce.
	ExecPolicy = executor.Policy
)

// Execution modes.
const (
	ModeMock   = model.ModeMock
	ModeReal   = model.ModeReal
	ModeDryRun = model.ModeDryRun
)

// Decision kinds, least to most restrictive among the allows.
const (
	AllowOnce           = model.AllowOnce
	AllowSession        = model.AllowSession
	AllowAlways         = model.AllowAlways
	Deny                = model.Deny
	AllowConstrained    = model.AllowConstrained
	AllowObserved       = model.AllowObserved
	DenyWithAlternative = model.DenyWithAlternative
)

// Error codes.
const (
	ErrToolNotFound       = model.ErrToolNotFound
	ErrInvalidInput       = model.ErrInvalidInput
	ErrInvalidOutput      = model.ErrInvalidOutput
	ErrPermissionDenied   = model.ErrPermissionDenied
	ErrPolicyViolation    = model.ErrPolicyViolation
	ErrCircuitBreakerOpen = model.ErrCircuitBreakerOpen
	ErrExecutionError     = model.ErrExecutionError
)

// Journal event types.
const (
	EventPermissionRequested = model.EventPermissionRequested
	EventPermissionGranted   = model.EventPermissionGranted
	EventPermissionDenied    = model.EventPermissionDenied
	EventObservedExecution   = model.EventObservedExecution
	EventToolStarted         = model.EventToolStarted
	EventToolSucceeded       = model.EventToolSucceeded
	EventToolFailed          = model.EventToolFailed
	EventPolicyViolated      = model.EventPolicyViolated
)
