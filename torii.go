// Package torii is the public API for embedding the Torii execution trust
// layer.
//
// Torii stands between an autonomous agent and its tools: every tool call
// passes through schema validation, a per-tool circuit breaker, a graduated
// permission gate, and grant constraints, and every step is recorded in an
// append-only hash-chained journal.
//
//	gate, err := torii.New(ctx,
//	    torii.WithPrompter(myApprovalUI),
//	    torii.WithJournalPath("agent.journal"),
//	)
//	if err != nil { ... }
//	defer gate.Close(ctx)
//
//	gate.RegisterTool(manifest)
//	gate.RegisterHandler(manifest.Name, myHandler)
//	result, err := gate.Execute(ctx, req)
//
// The import graph enforces a strict no-cycle rule: torii (root) imports
// internal/*, but internal/* never imports torii (root). The public types are
// aliases of the domain types, so no conversion layer exists.
package torii

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/torii/internal/breaker"
	"github.com/ashita-ai/torii/internal/config"
	"github.com/ashita-ai/torii/internal/executor"
	"github.com/ashita-ai/torii/internal/integrity"
	"github.com/ashita-ai/torii/internal/journal"
	"github.com/ashita-ai/torii/internal/mcp"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/permission"
	"github.com/ashita-ai/torii/internal/registry"
	"github.com/ashita-ai/torii/internal/storage"
	"github.com/ashita-ai/torii/internal/telemetry"
)

// Torii is one configured trust layer instance. Construct with New().
// Safe for concurrent use.
type Torii struct {
	cfg          config.Config
	logger       *slog.Logger
	journal      *journal.Journal
	grants       *storage.GrantStore // nil when persistence is disabled
	perm         *permission.Engine
	breaker      *breaker.Breaker
	registry     *registry.Registry
	runtime      *executor.Runtime
	otelShutdown telemetry.Shutdown
	version      string
}

// New builds a trust layer: opens (and verifies) the journal, loads persisted
// grants, and wires the permission gate, breaker, and executor. It starts no
// goroutines.
func New(ctx context.Context, opts ...Option) (*Torii, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.journalPath != "" {
		cfg.JournalPath = o.journalPath
	}
	if o.fsync != nil {
		cfg.JournalFsync = *o.fsync
	}
	if o.redactFields != nil {
		cfg.RedactFields = o.redactFields
	}
	if o.grantsPath != "" {
		cfg.GrantsPath = o.grantsPath
	}
	if o.defaultTimeout > 0 {
		cfg.DefaultTimeout = o.defaultTimeout
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("torii starting", "version", version, "journal", cfg.JournalPath)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	j, err := journal.Open(logger, journal.Config{
		Path:         cfg.JournalPath,
		Fsync:        cfg.JournalFsync,
		RedactFields: cfg.RedactFields,
	})
	if err != nil {
		return nil, err
	}

	var grants *storage.GrantStore
	var grantStore permission.GrantStore
	if cfg.GrantsPath != "" {
		grants, err = storage.Open(cfg.GrantsPath, logger)
		if err != nil {
			_ = j.Close()
			return nil, err
		}
		grantStore = grants
	}

	prompter := o.prompter
	if prompter == nil {
		// Fail closed: with no approval surface, nothing needing scopes runs.
		prompter = func(context.Context, model.PermissionRequest) (model.Decision, error) {
			return model.Decision{Kind: model.Deny, Reason: "no approver configured"}, nil
		}
	}

	perm, err := permission.New(ctx, j, prompter, grantStore, logger)
	if err != nil {
		_ = j.Close()
		if grants != nil {
			_ = grants.Close()
		}
		return nil, err
	}

	bcfg := breaker.Config{
		Default: breaker.CategoryConfig{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		},
	}
	if o.breakerConfig != nil {
		bcfg = *o.breakerConfig
	}
	b := breaker.New(bcfg)

	ambient := executor.Policy{
		AllowedPaths:             cfg.AllowedPaths,
		AllowedEndpoints:         cfg.AllowedEndpoints,
		AllowedCommands:          cfg.AllowedCommands,
		RequireApprovalForWrites: cfg.RequireApprovalForWrites,
	}
	if o.ambient != nil {
		ambient = *o.ambient
	}

	reg := registry.New()
	rt := executor.New(logger, j, reg, perm, b, executor.Config{
		DefaultTimeout: cfg.DefaultTimeout,
		Ambient:        ambient,
	})

	return &Torii{
		cfg:          cfg,
		logger:       logger,
		journal:      j,
		grants:       grants,
		perm:         perm,
		breaker:      b,
		registry:     reg,
		runtime:      rt,
		otelShutdown: otelShutdown,
		version:      version,
	}, nil
}

// RegisterTool adds a tool manifest. Manifests are immutable; registering an
// existing name fails.
func (t *Torii) RegisterTool(m ToolManifest) error {
	return t.registry.Register(m)
}

// RegisterHandler binds the execution function for a registered tool.
func (t *Torii) RegisterHandler(name string, h Handler) error {
	return t.runtime.RegisterHandler(name, h)
}

// UnregisterHandler removes a tool's handler. The manifest stays registered;
// subsequent calls fail with EXECUTION_ERROR rather than TOOL_NOT_FOUND.
func (t *Torii) UnregisterHandler(name string) {
	t.runtime.UnregisterHandler(name)
}

// Tools returns all registered manifests.
func (t *Torii) Tools() []ToolManifest {
	return t.registry.List()
}

// Execute runs one tool call through the full gate sequence. The error is
// non-nil only when the journal cannot be written; call failures come back
// inside the result.
func (t *Torii) Execute(ctx context.Context, req ToolExecutionRequest) (ToolExecutionResult, error) {
	return t.runtime.Execute(ctx, req)
}

// Subscribe registers a listener invoked synchronously, in order, for every
// journal append. Returns the unsubscribe function.
func (t *Torii) Subscribe(fn func(JournalEvent)) (unsubscribe func()) {
	return t.journal.On(fn)
}

// Events returns the full journal in append order.
func (t *Torii) Events() []JournalEvent {
	return t.journal.ReadAll()
}

// ReadEvents returns up to limit events starting at offset. limit <= 0 means
// no limit.
func (t *Torii) ReadEvents(offset, limit int) []JournalEvent {
	return t.journal.Read(offset, limit)
}

// VerifyJournal recomputes the whole hash chain. Returns the index of the
// first invalid event, or -1 when the chain is intact.
func (t *Torii) VerifyJournal() (int, error) {
	return t.journal.Verify()
}

// ExportRoot returns the Merkle root over all event hashes, a single
// externally publishable commitment to the journal's current contents.
func (t *Torii) ExportRoot() string {
	events := t.journal.ReadAll()
	hashes := make([]string, len(events))
	for i, e := range events {
		hashes[i] = e.Hash
	}
	return integrity.MerkleRoot(hashes)
}

// ResetSession drops all session-scoped grants for a session. Permanent
// grants are unaffected.
func (t *Torii) ResetSession(sessionID string) {
	t.perm.Reset(sessionID)
}

// ServeMCP exposes every registered tool over MCP on stdin/stdout and blocks
// until the client disconnects.
func (t *Torii) ServeMCP(mode ExecutionMode) error {
	srv := mcp.New(t.runtime, t.registry, t.version, t.logger, mcp.WithMode(mode))
	return srv.ServeStdio()
}

// Close flushes and closes the journal, the grant store, and telemetry.
func (t *Torii) Close(ctx context.Context) error {
	var firstErr error
	if err := t.journal.Close(); err != nil {
		firstErr = err
	}
	if t.grants != nil {
		if err := t.grants.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.otelShutdown != nil {
		if err := t.otelShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
