package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/torii/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestJournal(t *testing.T, cfg Config) *Journal {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.journal")
	}
	j, err := Open(testLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppend_BuildsVerifiableChain(t *testing.T) {
	j := openTestJournal(t, Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := j.Append(ctx, model.EventToolStarted, "s1", model.ToolStartedPayload{
			RequestID: "r1",
			ToolName:  "read_file",
			Mode:      model.ModeReal,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 10, j.Len())

	bad, err := j.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)

	events := j.ReadAll()
	assert.Empty(t, events[0].PrevHash, "first event anchors at empty string")
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash)
	}
}

func TestAppend_AssignsIdentityAndNormalizesPayload(t *testing.T) {
	j := openTestJournal(t, Config{})

	e, err := j.Append(context.Background(), model.EventToolSucceeded, "s1", model.ToolSucceededPayload{
		RequestID:  "r1",
		ToolName:   "read_file",
		Mode:       model.ModeReal,
		DurationMs: 42,
	})
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", e.EventID.String())
	assert.False(t, e.Timestamp.IsZero())
	// Typed payload came back as its canonical map form.
	assert.Equal(t, "read_file", e.Payload["tool_name"])
	assert.Equal(t, float64(42), e.Payload["duration_ms"])
}

func TestAppend_RejectsNonObjectPayload(t *testing.T) {
	j := openTestJournal(t, Config{})

	_, err := j.Append(context.Background(), model.EventToolStarted, "s1", "just a string")
	assert.Error(t, err)
	assert.Equal(t, 0, j.Len(), "failed append must not advance the chain")
}

func TestRedaction_HappensBeforeHashing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j := openTestJournal(t, Config{Path: path, RedactFields: []string{"api_key"}})

	e, err := j.Append(context.Background(), model.EventToolStarted, "s1", map[string]any{
		"tool_name": "http_get",
		"api_key":   "secret-value",
	})
	require.NoError(t, err)

	_, present := e.Payload["api_key"]
	assert.False(t, present, "redacted field must not be persisted")

	// The hash covers the redacted payload, so the chain still verifies on a
	// fresh replay.
	require.NoError(t, j.Close())
	j2 := openTestJournal(t, Config{Path: path})
	bad, err := j2.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-value")
}

func TestReplay_RestoresChainHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j := openTestJournal(t, Config{Path: path})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, model.EventToolStarted, "s1", map[string]any{"i": i})
		require.NoError(t, err)
	}
	head := j.Head()
	require.NoError(t, j.Close())

	j2 := openTestJournal(t, Config{Path: path})
	assert.Equal(t, 3, j2.Len())
	assert.Equal(t, head, j2.Head())

	// The restored head chains correctly for new appends.
	e, err := j2.Append(ctx, model.EventToolSucceeded, "s1", map[string]any{"i": 3})
	require.NoError(t, err)
	assert.Equal(t, head, e.PrevHash)
}

func TestReplay_TruncatesPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j := openTestJournal(t, Config{Path: path})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, model.EventToolStarted, "s1", map[string]any{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	// Simulate a torn write: half a line, no trailing newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2 := openTestJournal(t, Config{Path: path})
	assert.Equal(t, 3, j2.Len(), "partial tail cut back to last verifiable entry")
	bad, err := j2.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)
}

func TestReplay_TruncatesTamperedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j := openTestJournal(t, Config{Path: path})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := j.Append(ctx, model.EventToolStarted, "s1", map[string]any{"i": i})
		require.NoError(t, err)
	}
	events := j.ReadAll()
	require.NoError(t, j.Close())

	// Rewrite the file with event 2's payload altered but its stored hash kept.
	events[2].Payload["i"] = float64(99)
	f, err := os.Create(path)
	require.NoError(t, err)
	for _, e := range events {
		line, merr := json.Marshal(e)
		require.NoError(t, merr)
		_, err = f.Write(append(line, '\n'))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	j2 := openTestJournal(t, Config{Path: path})
	assert.Equal(t, 2, j2.Len(), "chain break truncates events 2 and 3")
}

func TestConcurrentAppends_AllLinkedAndOrdered(t *testing.T) {
	j := openTestJournal(t, Config{})
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.Append(ctx, model.EventToolStarted, "s1", map[string]any{"x": 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, j.Len())
	bad, err := j.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, bad, "concurrent appends must still form one linear chain")
}

func TestSubscribers_OrderedAndPanicIsolated(t *testing.T) {
	j := openTestJournal(t, Config{})

	var order []string
	unsubA := j.On(func(e model.JournalEvent) { order = append(order, "a") })
	j.On(func(e model.JournalEvent) { panic("subscriber bug") })
	j.On(func(e model.JournalEvent) { order = append(order, "c") })
	defer unsubA()

	_, err := j.Append(context.Background(), model.EventToolStarted, "s1", map[string]any{"x": 1})
	require.NoError(t, err, "subscriber panic must not fail the append")
	assert.Equal(t, []string{"a", "c"}, order, "registration order, panicker skipped")

	unsubA()
	order = nil
	_, err = j.Append(context.Background(), model.EventToolStarted, "s1", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, order, "unsubscribed listener no longer invoked")
}

func TestRead_Pagination(t *testing.T) {
	j := openTestJournal(t, Config{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, model.EventToolStarted, "s1", map[string]any{"i": i})
		require.NoError(t, err)
	}

	assert.Len(t, j.Read(0, 2), 2)
	assert.Len(t, j.Read(3, 10), 2)
	assert.Len(t, j.Read(0, 0), 5, "limit <= 0 means no limit")
	assert.Nil(t, j.Read(5, 1))
	assert.Nil(t, j.Read(-1, 1))

	page := j.Read(2, 2)
	all := j.ReadAll()
	assert.Equal(t, all[2].EventID, page[0].EventID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(testLogger(), Config{})
	assert.Error(t, err)
}
