package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/torii/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, path string) *GrantStore {
	t.Helper()
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGrantStore_PutAndAll(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "grants.db"))
	ctx := context.Background()

	d := model.Decision{Kind: model.AllowAlways}
	require.NoError(t, s.Put(ctx, "fs:read:workspace", d))
	require.NoError(t, s.Put(ctx, "net:http:api.example.com", model.Decision{
		Kind:        model.AllowAlways,
		Constraints: &model.Constraints{MaxDurationMs: 5000},
	}))

	grants, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, model.AllowAlways, grants["fs:read:workspace"].Kind)
	require.NotNil(t, grants["net:http:api.example.com"].Constraints)
	assert.Equal(t, 5000, grants["net:http:api.example.com"].Constraints.MaxDurationMs)
}

func TestGrantStore_PutUpserts(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "grants.db"))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "scope", model.Decision{Kind: model.AllowAlways}))
	require.NoError(t, s.Put(ctx, "scope", model.Decision{
		Kind:        model.AllowAlways,
		Constraints: &model.Constraints{OutputRedactFields: []string{"token"}},
	}))

	grants, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NotNil(t, grants["scope"].Constraints)
}

func TestGrantStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	require.NoError(t, s.Put(ctx, "fs:write:scratch", model.Decision{Kind: model.AllowAlways}))
	require.NoError(t, s.Close())

	s2 := openTestStore(t, path)
	grants, err := s2.All(ctx)
	require.NoError(t, err)
	assert.Contains(t, grants, "fs:write:scratch")
}

func TestGrantStore_Delete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "grants.db"))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "scope", model.Decision{Kind: model.AllowAlways}))
	require.NoError(t, s.Delete(ctx, "scope"))
	require.NoError(t, s.Delete(ctx, "never-existed"))

	grants, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, grants)
}
