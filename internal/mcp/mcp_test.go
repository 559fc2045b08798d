package mcp

import (
	"context"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/torii/internal/breaker"
	"github.com/ashita-ai/torii/internal/ctxutil"
	"github.com/ashita-ai/torii/internal/executor"
	"github.com/ashita-ai/torii/internal/journal"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/registry"
	"github.com/ashita-ai/torii/internal/testutil"
)

type allowAll struct{}

func (allowAll) Check(context.Context, model.PermissionRequest) (model.Decision, error) {
	return model.Decision{Kind: model.AllowSession}, nil
}

func newTestServer(t *testing.T, mode model.ExecutionMode) (*Server, *journal.Journal) {
	t.Helper()
	j := testutil.TempJournal(t)
	reg := registry.New()
	require.NoError(t, reg.Register(model.ToolManifest{
		Name:        "echo",
		Description: "Echo the input back",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Supports:      model.ToolSupports{Mock: true},
		MockResponses: []map[string]any{{"text": "fixture"}},
	}))

	b := breaker.New(breaker.Config{})
	rt := executor.New(testutil.Logger(), j, reg, allowAll{}, b, executor.Config{DefaultTimeout: time.Second})
	require.NoError(t, rt.RegisterHandler("echo", func(_ context.Context, input map[string]any, _ model.ExecutionMode, _ *executor.Policy) (any, error) {
		return map[string]any{"text": input["text"]}, nil
	}))

	return New(rt, reg, "test", testutil.Logger(), WithMode(mode)), j
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// toolText extracts the first TextContent text from a CallToolResult.
func toolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandler_RealExecution(t *testing.T) {
	srv, j := newTestServer(t, model.ModeReal)

	handler := srv.handlerFor("echo")
	result, err := handler(context.Background(), callRequest("echo", map[string]any{"text": "hello"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, toolText(t, result), "hello")

	// The call went through the full gate: execution events were journaled
	// under the fallback session.
	events := j.ReadAll()
	require.NotEmpty(t, events)
	assert.Equal(t, "mcp", events[0].SessionID)
}

func TestHandler_SessionFromContext(t *testing.T) {
	srv, j := newTestServer(t, model.ModeReal)

	ctx := ctxutil.WithSession(context.Background(), "agent-7", "step-3")
	handler := srv.handlerFor("echo")
	_, err := handler(ctx, callRequest("echo", map[string]any{"text": "hi"}))
	require.NoError(t, err)

	events := j.ReadAll()
	require.NotEmpty(t, events)
	assert.Equal(t, "agent-7", events[0].SessionID)
}

func TestHandler_InvalidInputSurfacesAsToolError(t *testing.T) {
	srv, _ := newTestServer(t, model.ModeReal)

	handler := srv.handlerFor("echo")
	result, err := handler(context.Background(), callRequest("echo", map[string]any{"text": 42}))
	require.NoError(t, err, "protocol errors and tool errors are separate channels")
	require.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), string(model.ErrInvalidInput))
}

func TestHandler_MockModeServesFixtures(t *testing.T) {
	srv, _ := newTestServer(t, model.ModeMock)

	handler := srv.handlerFor("echo")
	result, err := handler(context.Background(), callRequest("echo", map[string]any{"text": "ignored"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, toolText(t, result), "fixture")
}
