// Package permission implements the graduated permission gate that stands
// between a tool request and its execution.
//
// Every check is journaled. Approval flows through a pluggable prompter;
// prompter failure of any kind resolves to deny. Grants are cached per
// session, and allow_always grants are additionally persisted.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/torii/internal/journal"
	"github.com/ashita-ai/torii/internal/model"
)

// PromptFunc obtains a decision from the approval surface (a human, an
// orchestrator policy, a test stub). It may block until the user responds.
type PromptFunc func(ctx context.Context, req model.PermissionRequest) (model.Decision, error)

// GrantStore persists permanent grants across restarts.
type GrantStore interface {
	Put(ctx context.Context, scope string, d model.Decision) error
	All(ctx context.Context) (map[string]model.Decision, error)
}

// Engine evaluates permission requests against cached grants and, on a cache
// miss, prompts for a fresh decision. Concurrent identical prompts within a
// session are coalesced so the approver sees each question once.
type Engine struct {
	journal *journal.Journal
	prompt  PromptFunc
	store   GrantStore // may be nil
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]map[string]model.Decision // sessionID -> scope -> grant
	always   map[string]model.Decision            // scope -> permanent grant

	sf singleflight.Group
}

// New creates an engine. If store is non-nil, previously persisted
// allow_always grants are loaded eagerly.
func New(ctx context.Context, j *journal.Journal, prompt PromptFunc, store GrantStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		journal:  j,
		prompt:   prompt,
		store:    store,
		logger:   logger,
		sessions: make(map[string]map[string]model.Decision),
		always:   make(map[string]model.Decision),
	}
	if store != nil {
		grants, err := store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("permission: load grants: %w", err)
		}
		e.always = grants
	}
	return e, nil
}

// Check resolves a permission request to a decision.
//
// A request with no scopes is allowed without prompting or journaling.
// Otherwise the request is journaled, the grant cache is consulted, and on a
// miss the prompter is asked. The returned error is non-nil only when the
// journal cannot be written; a denial is a normal decision, not an error.
func (e *Engine) Check(ctx context.Context, req model.PermissionRequest) (model.Decision, error) {
	if len(req.Permissions) == 0 {
		return model.Decision{Kind: model.AllowAlways}, nil
	}

	if _, err := e.journal.Append(ctx, model.EventPermissionRequested, req.SessionID, model.PermissionRequestedPayload{
		RequestID: req.RequestID,
		StepID:    req.StepID,
		ToolName:  req.ToolName,
		Scopes:    req.Permissions,
	}); err != nil {
		return model.Decision{}, err
	}

	if d, ok := e.cached(req.SessionID, req.Permissions); ok {
		if _, err := e.journal.Append(ctx, model.EventPermissionGranted, req.SessionID, model.PermissionGrantedPayload{
			RequestID: req.RequestID,
			ToolName:  req.ToolName,
			Scopes:    req.Permissions,
			Kind:      d.Kind,
			Cached:    true,
		}); err != nil {
			return model.Decision{}, err
		}
		return d, nil
	}

	d := e.promptOnce(ctx, req)

	if !d.Allows() {
		if _, err := e.journal.Append(ctx, model.EventPermissionDenied, req.SessionID, model.PermissionDeniedPayload{
			RequestID: req.RequestID,
			ToolName:  req.ToolName,
			Scopes:    req.Permissions,
			Reason:    d.Reason,
		}); err != nil {
			return model.Decision{}, err
		}
		return d, nil
	}

	e.cache(ctx, req, d)

	if _, err := e.journal.Append(ctx, model.EventPermissionGranted, req.SessionID, model.PermissionGrantedPayload{
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		Scopes:    req.Permissions,
		Kind:      d.Kind,
	}); err != nil {
		return model.Decision{}, err
	}

	if d.Kind == model.AllowObserved {
		if _, err := e.journal.Append(ctx, model.EventObservedExecution, req.SessionID, model.ObservedExecutionPayload{
			RequestID:      req.RequestID,
			ToolName:       req.ToolName,
			Scope:          d.Scope,
			TelemetryLevel: d.TelemetryLevel,
		}); err != nil {
			return model.Decision{}, err
		}
	}

	return d, nil
}

// Reset drops all session-scoped grants for a session. Permanent grants are
// unaffected.
func (e *Engine) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// cached returns a grant only when every requested scope is covered. When
// scopes are covered by grants of different kinds, the most restrictive kind
// wins so constraints are never silently dropped.
func (e *Engine) cached(sessionID string, scopes []string) (model.Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session := e.sessions[sessionID]
	var best model.Decision
	found := false
	for _, scope := range scopes {
		d, ok := session[scope]
		if !ok {
			d, ok = e.always[scope]
		}
		if !ok {
			return model.Decision{}, false
		}
		if !found || restrictiveness(d.Kind) > restrictiveness(best.Kind) {
			best = d
		}
		found = true
	}
	return best, found
}

func restrictiveness(k model.DecisionKind) int {
	switch k {
	case model.AllowConstrained:
		return 3
	case model.AllowObserved:
		return 2
	case model.AllowSession:
		return 1
	}
	return 0 // allow_always
}

// promptOnce asks the prompter, coalescing concurrent identical requests and
// converting every failure mode (error, panic, invalid kind) into a denial.
func (e *Engine) promptOnce(ctx context.Context, req model.PermissionRequest) model.Decision {
	scopes := append([]string(nil), req.Permissions...)
	sort.Strings(scopes)
	key := req.SessionID + "|" + strings.Join(scopes, ",")

	v, err, _ := e.sf.Do(key, func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("prompter panicked", "tool", req.ToolName, "panic", r)
				result = model.Decision{Kind: model.Deny, Reason: "approval prompt failed"}
				err = nil
			}
		}()
		d, perr := e.prompt(ctx, req)
		if perr != nil {
			e.logger.Warn("prompter error, denying", "tool", req.ToolName, "error", perr)
			return model.Decision{Kind: model.Deny, Reason: "approval prompt failed"}, nil
		}
		if verr := d.Validate(); verr != nil {
			e.logger.Warn("prompter returned unknown decision kind, denying", "tool", req.ToolName, "kind", d.Kind)
			return model.Decision{Kind: model.Deny, Reason: "unrecognized decision"}, nil
		}
		return d, nil
	})
	if err != nil {
		return model.Decision{Kind: model.Deny, Reason: "approval prompt failed"}
	}
	return v.(model.Decision)
}

// cache records an allowing decision in the grant cache according to its
// lifetime. Store failures for permanent grants are logged, not fatal; the
// grant still applies for the current process.
func (e *Engine) cache(ctx context.Context, req model.PermissionRequest, d model.Decision) {
	shouldCache, permanent := d.Cacheable()
	if !shouldCache {
		return
	}

	scopes := req.Permissions
	if d.Scope != "" {
		scopes = []string{d.Scope}
	}

	e.mu.Lock()
	if permanent {
		for _, scope := range scopes {
			e.always[scope] = d
		}
	} else {
		session := e.sessions[req.SessionID]
		if session == nil {
			session = make(map[string]model.Decision)
			e.sessions[req.SessionID] = session
		}
		for _, scope := range scopes {
			session[scope] = d
		}
	}
	e.mu.Unlock()

	if permanent && e.store != nil {
		for _, scope := range scopes {
			if err := e.store.Put(ctx, scope, d); err != nil {
				e.logger.Warn("failed to persist permanent grant", "scope", scope, "error", err)
			}
		}
	}
}
