// Package testutil provides shared helpers for package tests.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashita-ai/torii/internal/journal"
)

// Logger returns a quiet logger for tests. Warnings and errors still surface.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// TempJournal opens a journal backed by a file in a per-test temp directory.
func TempJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(Logger(), journal.Config{
		Path: filepath.Join(t.TempDir(), "events.journal"),
	})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}
