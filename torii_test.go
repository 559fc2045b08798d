package torii

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestGate(t *testing.T, opts ...Option) *Torii {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithLogger(quietLogger()),
		WithJournalPath(filepath.Join(dir, "events.journal")),
		WithGrantStorePath(filepath.Join(dir, "grants.db")),
	}
	gate, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gate.Close(context.Background()) })
	return gate
}

func searchManifest() ToolManifest {
	return ToolManifest{
		Name:        "search_code",
		Description: "Search the workspace for a pattern",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"pattern"},
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
			},
		},
		Permissions: []string{"fs:read:workspace"},
	}
}

func TestEndToEnd_ApprovedExecution(t *testing.T) {
	var prompted []PermissionRequest
	gate := newTestGate(t, WithPrompter(func(_ context.Context, req PermissionRequest) (Decision, error) {
		prompted = append(prompted, req)
		return Decision{Kind: AllowSession}, nil
	}))

	require.NoError(t, gate.RegisterTool(searchManifest()))
	require.NoError(t, gate.RegisterHandler("search_code", func(_ context.Context, input map[string]any, _ ExecutionMode, _ *ExecPolicy) (any, error) {
		return map[string]any{"matches": []any{input["pattern"]}}, nil
	}))

	var seen []EventType
	unsub := gate.Subscribe(func(e JournalEvent) { seen = append(seen, e.Type) })
	defer unsub()

	res, err := gate.Execute(context.Background(), ToolExecutionRequest{
		RequestID: "req-1",
		ToolName:  "search_code",
		Input:     map[string]any{"pattern": "TODO"},
		Mode:      ModeReal,
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	require.True(t, res.OK)

	require.Len(t, prompted, 1)
	assert.Equal(t, []string{"fs:read:workspace"}, prompted[0].Permissions)

	assert.Equal(t, []EventType{
		EventPermissionRequested,
		EventPermissionGranted,
		EventToolStarted,
		EventToolSucceeded,
	}, seen)

	bad, err := gate.VerifyJournal()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)
	assert.NotEmpty(t, gate.ExportRoot())

	// Second call in the same session reuses the grant.
	_, err = gate.Execute(context.Background(), ToolExecutionRequest{
		RequestID: "req-2",
		ToolName:  "search_code",
		Input:     map[string]any{"pattern": "FIXME"},
		Mode:      ModeReal,
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Len(t, prompted, 1)

	// Resetting the session forces a fresh prompt.
	gate.ResetSession("sess-1")
	_, err = gate.Execute(context.Background(), ToolExecutionRequest{
		RequestID: "req-3",
		ToolName:  "search_code",
		Input:     map[string]any{"pattern": "XXX"},
		Mode:      ModeReal,
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Len(t, prompted, 2)
}

func TestEndToEnd_DefaultPrompterDeniesEverything(t *testing.T) {
	gate := newTestGate(t)
	require.NoError(t, gate.RegisterTool(searchManifest()))

	res, err := gate.Execute(context.Background(), ToolExecutionRequest{
		RequestID: "req-1",
		ToolName:  "search_code",
		Input:     map[string]any{"pattern": "x"},
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	require.False(t, res.OK)
	assert.Equal(t, ErrPermissionDenied, res.Error.Code)
	assert.Contains(t, res.Error.Message, "no approver configured")
}

func TestEndToEnd_JournalSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "events.journal")
	ctx := context.Background()

	gate, err := New(ctx,
		WithLogger(quietLogger()),
		WithJournalPath(journalPath),
		WithPrompter(func(context.Context, PermissionRequest) (Decision, error) {
			return Decision{Kind: AllowSession}, nil
		}),
	)
	require.NoError(t, err)
	require.NoError(t, gate.RegisterTool(searchManifest()))
	require.NoError(t, gate.RegisterHandler("search_code", func(context.Context, map[string]any, ExecutionMode, *ExecPolicy) (any, error) {
		return map[string]any{"matches": []any{}}, nil
	}))
	_, err = gate.Execute(ctx, ToolExecutionRequest{
		RequestID: "r1", ToolName: "search_code",
		Input: map[string]any{"pattern": "x"}, SessionID: "s1",
	})
	require.NoError(t, err)
	countBefore := len(gate.Events())
	require.NoError(t, gate.Close(ctx))

	gate2, err := New(ctx, WithLogger(quietLogger()), WithJournalPath(journalPath))
	require.NoError(t, err)
	defer gate2.Close(ctx)

	assert.Equal(t, countBefore, len(gate2.Events()))
	bad, err := gate2.VerifyJournal()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)
}

func TestEndToEnd_Tools(t *testing.T) {
	gate := newTestGate(t)
	require.NoError(t, gate.RegisterTool(searchManifest()))
	tools := gate.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "search_code", tools[0].Name)
}
