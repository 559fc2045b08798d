// Package executor runs tool calls through the full gate sequence: schema
// validation, circuit breaker, permission check, constraint application,
// execution with timeout, output validation, and result shaping. Every
// execution leaves tool.* events in the journal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/torii/internal/breaker"
	"github.com/ashita-ai/torii/internal/journal"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/policy"
	"github.com/ashita-ai/torii/internal/telemetry"
)

// redactedMarker replaces redacted field values so consumers can tell a
// redaction from an absent field.
const redactedMarker = "[REDACTED]"

// Handler executes one tool call. The policy carries the effective path,
// command, and endpoint allowlists for this call; handlers consult it before
// touching the filesystem, spawning processes, or issuing requests.
type Handler func(ctx context.Context, input map[string]any, mode model.ExecutionMode, pol *Policy) (any, error)

// Policy is the effective execution policy for one call: the ambient
// allowlists, possibly narrowed by grant constraints.
type Policy struct {
	AllowedPaths             []string
	ReadonlyPaths            []string
	WritablePaths            []string
	AllowedEndpoints         []string
	AllowedCommands          []string
	RequireApprovalForWrites bool
}

// CheckPath verifies a filesystem access. Sensitive credential files are
// always blocked. Writes must land under the writable roots when any are
// set; reads may use any configured root. When RequireApprovalForWrites is
// set, writes are rejected outright unless a grant supplied writable roots.
func (p *Policy) CheckPath(path string, write bool) error {
	if err := policy.AssertNotSensitiveFile(path); err != nil {
		return err
	}
	if write {
		if p.RequireApprovalForWrites && len(p.WritablePaths) == 0 {
			return &policy.ViolationError{
				Rule:    "path",
				Subject: path,
				Detail:  "writes require an explicitly granted writable root",
			}
		}
		roots := p.WritablePaths
		if len(roots) == 0 {
			roots = p.AllowedPaths
		}
		return policy.AssertPathAllowed(path, roots)
	}
	roots := make([]string, 0, len(p.AllowedPaths)+len(p.ReadonlyPaths)+len(p.WritablePaths))
	roots = append(roots, p.AllowedPaths...)
	roots = append(roots, p.ReadonlyPaths...)
	roots = append(roots, p.WritablePaths...)
	return policy.AssertPathAllowed(path, roots)
}

// CheckCommand verifies the binary of a shell command against the allowlist.
func (p *Policy) CheckCommand(command string) error {
	return policy.AssertCommandAllowed(command, p.AllowedCommands)
}

// CheckEndpoint verifies a URL against the SSRF guards and the endpoint
// allowlist, including DNS re-checking of resolved addresses.
func (p *Policy) CheckEndpoint(ctx context.Context, rawURL string) error {
	return policy.AssertEndpointAllowedDNS(ctx, rawURL, p.AllowedEndpoints, nil)
}

// Registry is the manifest source the runtime validates against.
type Registry interface {
	Lookup(name string) (model.ToolManifest, bool)
	ValidateInput(name string, v any) error
	ValidateOutput(name string, v any) error
}

// PermissionChecker gates execution. Denials come back as decisions, not
// errors; an error means the check itself could not be recorded.
type PermissionChecker interface {
	Check(ctx context.Context, req model.PermissionRequest) (model.Decision, error)
}

// Config for the runtime.
type Config struct {
	// DefaultTimeout applies when a manifest omits timeout_ms.
	DefaultTimeout time.Duration
	// Ambient is the baseline execution policy for every call.
	Ambient Policy
}

// Runtime executes tool calls. Safe for concurrent use.
type Runtime struct {
	logger   *slog.Logger
	journal  *journal.Journal
	registry Registry
	perm     PermissionChecker
	breaker  *breaker.Breaker
	cfg      Config

	mu       sync.RWMutex
	handlers map[string]Handler

	tracer trace.Tracer
	execs  metric.Int64Counter
}

// New creates a Runtime.
func New(logger *slog.Logger, j *journal.Journal, reg Registry, perm PermissionChecker, b *breaker.Breaker, cfg Config) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	rt := &Runtime{
		logger:   logger,
		journal:  j,
		registry: reg,
		perm:     perm,
		breaker:  b,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		tracer:   telemetry.Tracer("torii/executor"),
	}
	rt.execs, _ = telemetry.Meter("torii/executor").Int64Counter("torii.tool.executions",
		metric.WithDescription("Tool executions by tool name and outcome"),
	)
	return rt
}

// RegisterHandler binds a handler to a tool name. One handler per tool.
func (rt *Runtime) RegisterHandler(name string, h Handler) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.handlers[name]; exists {
		return fmt.Errorf("executor: handler for %q already registered", name)
	}
	rt.handlers[name] = h
	return nil
}

// UnregisterHandler removes a tool's handler.
func (rt *Runtime) UnregisterHandler(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.handlers, name)
}

// Execute runs one tool call end to end. Failures of the call itself come
// back inside the result; the returned error is non-nil only when the journal
// cannot be written, in which case execution must not be trusted to have been
// recorded.
func (rt *Runtime) Execute(ctx context.Context, req model.ToolExecutionRequest) (model.ToolExecutionResult, error) {
	ctx, span := rt.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", req.ToolName),
		attribute.String("tool.mode", string(req.Mode)),
	))
	defer span.End()

	if req.Mode == "" {
		req.Mode = model.ModeReal
	}

	// Pre-gate rejections: nothing has happened yet, so nothing is journaled.
	manifest, ok := rt.registry.Lookup(req.ToolName)
	if !ok {
		return rt.reject(req, model.ErrToolNotFound, fmt.Sprintf("tool %q is not registered", req.ToolName)), nil
	}
	if req.ToolVersion != "" && manifest.Version != "" && req.ToolVersion != manifest.Version {
		return rt.reject(req, model.ErrToolNotFound,
			fmt.Sprintf("tool %q version %s requested, %s registered", req.ToolName, req.ToolVersion, manifest.Version)), nil
	}
	switch req.Mode {
	case model.ModeReal:
	case model.ModeMock:
		if !manifest.Supports.Mock {
			return rt.reject(req, model.ErrInvalidInput, fmt.Sprintf("tool %q does not support mock mode", req.ToolName)), nil
		}
	case model.ModeDryRun:
		if !manifest.Supports.DryRun {
			return rt.reject(req, model.ErrInvalidInput, fmt.Sprintf("tool %q does not support dry_run mode", req.ToolName)), nil
		}
	default:
		return rt.reject(req, model.ErrInvalidInput, fmt.Sprintf("unknown execution mode %q", req.Mode)), nil
	}

	if err := rt.registry.ValidateInput(req.ToolName, req.Input); err != nil {
		return rt.reject(req, model.ErrInvalidInput, err.Error()), nil
	}

	if manifest.Category != "" {
		rt.breaker.SetCategory(manifest.Name, manifest.Category)
	}
	// Mock calls bypass the breaker entirely: fixtures cannot fail and must
	// not mask or reset a real tool's health.
	if req.Mode != model.ModeMock && rt.breaker.IsOpen(req.ToolName) {
		return rt.reject(req, model.ErrCircuitBreakerOpen,
			fmt.Sprintf("circuit breaker open for tool %q", req.ToolName)), nil
	}

	decision, err := rt.perm.Check(ctx, model.PermissionRequest{
		RequestID:   req.RequestID,
		SessionID:   req.SessionID,
		StepID:      req.StepID,
		ToolName:    req.ToolName,
		Permissions: manifest.Permissions,
	})
	if err != nil {
		return model.ToolExecutionResult{}, err
	}
	if !decision.Allows() {
		msg := "permission denied"
		if decision.Reason != "" {
			msg = "permission denied: " + decision.Reason
		}
		if decision.Kind == model.DenyWithAlternative && decision.Alternative != nil {
			msg = fmt.Sprintf("%s (try tool %q instead)", msg, decision.Alternative.ToolName)
		}
		return rt.reject(req, model.ErrPermissionDenied, msg), nil
	}

	// Apply grant constraints: merged input re-validated, timeout and policy
	// only ever narrowed.
	input := req.Input
	timeout := rt.timeoutFor(manifest)
	pol := rt.cfg.Ambient
	var cons *model.Constraints
	if decision.Constraints != nil {
		cons = decision.Constraints
		if len(cons.InputOverrides) > 0 {
			input = mergeInput(req.Input, cons.InputOverrides)
			if err := rt.registry.ValidateInput(req.ToolName, input); err != nil {
				return rt.reject(req, model.ErrInvalidInput, "constrained input: "+err.Error()), nil
			}
		}
		if cons.MaxDurationMs > 0 {
			if d := time.Duration(cons.MaxDurationMs) * time.Millisecond; d < timeout {
				timeout = d
			}
		}
		if len(cons.ReadonlyPaths) > 0 {
			pol.ReadonlyPaths = cons.ReadonlyPaths
		}
		if len(cons.WritablePaths) > 0 {
			pol.WritablePaths = cons.WritablePaths
		}
	}

	if _, err := rt.journal.Append(ctx, model.EventToolStarted, req.SessionID, model.ToolStartedPayload{
		RequestID: req.RequestID,
		StepID:    req.StepID,
		ToolName:  req.ToolName,
		Mode:      req.Mode,
	}); err != nil {
		return model.ToolExecutionResult{}, err
	}

	start := time.Now()
	raw, execErr := rt.run(ctx, manifest, req.Mode, input, timeout, &pol)
	elapsed := time.Since(start).Milliseconds()

	if execErr != nil {
		return rt.fail(ctx, req, execErr, elapsed)
	}

	// Mock responses are canned fixtures, not tool output; they skip output
	// validation.
	if req.Mode != model.ModeMock {
		if err := rt.registry.ValidateOutput(req.ToolName, raw); err != nil {
			return rt.fail(ctx, req, &callError{code: model.ErrInvalidOutput, msg: err.Error()}, elapsed)
		}
	}

	result := shapeOutput(raw, cons)

	if req.Mode != model.ModeMock {
		rt.breaker.RecordSuccess(req.ToolName)
	}
	rt.count(ctx, req.ToolName, "success")

	if _, err := rt.journal.Append(ctx, model.EventToolSucceeded, req.SessionID, model.ToolSucceededPayload{
		RequestID:  req.RequestID,
		ToolName:   req.ToolName,
		Mode:       req.Mode,
		DurationMs: elapsed,
	}); err != nil {
		return model.ToolExecutionResult{}, err
	}

	return model.ToolExecutionResult{
		OK:         true,
		Result:     result,
		Mode:       req.Mode,
		DurationMs: elapsed,
	}, nil
}

// callError is an execution-phase failure with its taxonomy code. retriable
// failures indicate tool unavailability and feed the breaker.
type callError struct {
	code      model.ErrorCode
	msg       string
	retriable bool
	violation bool // also emit policy.violated
}

func (e *callError) Error() string { return e.msg }

// run dispatches to the mock fixture or the registered handler, enforcing the
// timeout. The handler runs in its own goroutine; on timeout the goroutine is
// left to finish and its late result is discarded with a warning.
func (rt *Runtime) run(ctx context.Context, m model.ToolManifest, mode model.ExecutionMode, input map[string]any, timeout time.Duration, pol *Policy) (any, error) {
	if mode == model.ModeMock {
		if len(m.MockResponses) == 0 {
			return map[string]any{}, nil
		}
		return m.MockResponses[0], nil
	}

	rt.mu.RLock()
	h, ok := rt.handlers[m.Name]
	rt.mu.RUnlock()
	if !ok {
		// A registered manifest without a handler is a wiring bug, not a
		// transient tool failure.
		return nil, &callError{code: model.ErrExecutionError, msg: fmt.Sprintf("no handler registered for tool %q", m.Name)}
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		v, err := h(ctx, input, mode, pol)
		ch <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, rt.classify(out.err)
		}
		return out.val, nil
	case <-timer.C:
		go rt.drain(m.Name, ch)
		return nil, &callError{
			code:      model.ErrExecutionError,
			msg:       fmt.Sprintf("tool %q timed out after %s", m.Name, timeout),
			retriable: true,
		}
	case <-ctx.Done():
		go rt.drain(m.Name, ch)
		return nil, &callError{code: model.ErrExecutionError, msg: "execution canceled: " + ctx.Err().Error()}
	}
}

// classify maps a handler error to the taxonomy. Policy guard errors become
// POLICY_VIOLATION and never count against the breaker; everything else is a
// retriable execution fault.
func (rt *Runtime) classify(err error) *callError {
	var vErr *policy.ViolationError
	var sErr *policy.SSRFError
	if errors.As(err, &vErr) || errors.As(err, &sErr) {
		return &callError{code: model.ErrPolicyViolation, msg: err.Error(), violation: true}
	}
	return &callError{code: model.ErrExecutionError, msg: err.Error(), retriable: true}
}

type outcome struct {
	val any
	err error
}

// drain consumes an abandoned handler's result so the goroutine can exit.
func (rt *Runtime) drain(tool string, ch <-chan outcome) {
	out := <-ch
	rt.logger.Warn("discarding late tool result", "tool", tool, "error", out.err)
}

// fail journals the failure and builds the error result. Only retriable
// failures feed the breaker.
func (rt *Runtime) fail(ctx context.Context, req model.ToolExecutionRequest, execErr error, elapsed int64) (model.ToolExecutionResult, error) {
	ce := &callError{code: model.ErrExecutionError, msg: execErr.Error(), retriable: true}
	errors.As(execErr, &ce)

	if ce.retriable {
		rt.breaker.RecordFailure(req.ToolName)
	}
	rt.count(ctx, req.ToolName, "failure")

	if ce.violation {
		if _, err := rt.journal.Append(ctx, model.EventPolicyViolated, req.SessionID, model.PolicyViolatedPayload{
			RequestID: req.RequestID,
			ToolName:  req.ToolName,
			Detail:    ce.msg,
		}); err != nil {
			return model.ToolExecutionResult{}, err
		}
	}

	if _, err := rt.journal.Append(ctx, model.EventToolFailed, req.SessionID, model.ToolFailedPayload{
		RequestID:  req.RequestID,
		ToolName:   req.ToolName,
		Mode:       req.Mode,
		Code:       ce.code,
		Message:    ce.msg,
		DurationMs: elapsed,
	}); err != nil {
		return model.ToolExecutionResult{}, err
	}

	return model.ToolExecutionResult{
		Error:      &model.ToolError{Code: ce.code, Message: ce.msg},
		Mode:       req.Mode,
		DurationMs: elapsed,
	}, nil
}

// reject builds a pre-gate error result. Nothing executed, nothing journaled
// beyond what earlier gates already recorded.
func (rt *Runtime) reject(req model.ToolExecutionRequest, code model.ErrorCode, msg string) model.ToolExecutionResult {
	rt.count(context.Background(), req.ToolName, "rejected")
	return model.ToolExecutionResult{
		Error: &model.ToolError{Code: code, Message: msg},
		Mode:  req.Mode,
	}
}

func (rt *Runtime) timeoutFor(m model.ToolManifest) time.Duration {
	if m.TimeoutMs > 0 {
		return time.Duration(m.TimeoutMs) * time.Millisecond
	}
	return rt.cfg.DefaultTimeout
}

func (rt *Runtime) count(ctx context.Context, tool, outcome string) {
	rt.execs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("outcome", outcome),
		),
	)
}

// mergeInput shallow-merges overrides onto the request input without mutating
// either map.
func mergeInput(input, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(input)+len(overrides))
	for k, v := range input {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// shapeOutput applies the grant's output constraints to map results. The
// allowlist runs strictly before redaction so a field that is both allowed
// and redacted comes back redacted, not exposed.
func shapeOutput(raw any, cons *model.Constraints) any {
	if cons == nil {
		return raw
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}

	shaped := make(map[string]any, len(m))
	if len(cons.OutputAllowFields) > 0 {
		for _, k := range cons.OutputAllowFields {
			if v, present := m[k]; present {
				shaped[k] = v
			}
		}
	} else {
		for k, v := range m {
			shaped[k] = v
		}
	}

	for _, k := range cons.OutputRedactFields {
		if _, present := shaped[k]; present {
			shaped[k] = redactedMarker
		}
	}
	return shaped
}
