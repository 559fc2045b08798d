// Package journal implements the durable, ordered, hash-chained event log.
//
// Layout: one JSONL file per journal instance, one self-describing event per
// line. Each event's hash covers the previous event's hash, so retroactive
// edits are computationally evident. The chain head is the only mutable
// state; it lives in memory and is reconstructed from disk on open.
//
// On open, the file is replayed and every entry re-verified. A corrupt or
// partially written tail (unclean shutdown) is truncated back to the last
// verifiable entry with a warning rather than failing hard.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/torii/internal/integrity"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/telemetry"
)

// maxEntryBytes bounds a single journal line. Larger payloads are a caller
// bug (tool outputs are shaped before journaling).
const maxEntryBytes = 4 << 20 // 4 MB

// Config holds journal construction parameters.
type Config struct {
	Path string // Backing file. Required.

	// Fsync syncs the file after every append. Durable but slow; leave off
	// when the OS page cache is an acceptable loss window.
	Fsync bool

	// RedactFields are top-level payload keys stripped before persisting.
	// Redaction happens before hashing, so it is itself part of the
	// tamper-evident record.
	RedactFields []string
}

type subscriber struct {
	id int
	fn func(model.JournalEvent)
}

// Journal is the append-only event log. Safe for concurrent use.
type Journal struct {
	path   string
	fsync  bool
	redact map[string]struct{}
	logger *slog.Logger

	mu     sync.Mutex // serializes appends; guards file, head, events
	f      *os.File
	head   string
	events []model.JournalEvent

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int

	appends metric.Int64Counter
}

// Open creates or replays the journal at cfg.Path and reconstructs the chain
// head. Corruption past the last verifiable entry truncates the file.
func Open(logger *slog.Logger, cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", cfg.Path, err)
	}

	j := &Journal{
		path:   cfg.Path,
		fsync:  cfg.Fsync,
		redact: make(map[string]struct{}, len(cfg.RedactFields)),
		logger: logger,
		f:      f,
	}
	for _, field := range cfg.RedactFields {
		j.redact[field] = struct{}{}
	}

	if err := j.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}

	j.registerMetrics()
	return j, nil
}

// replay reads existing entries, verifies the chain, and truncates the file
// past the last verifiable entry.
func (j *Journal) replay() error {
	if _, err := j.f.Seek(0, 0); err != nil {
		return fmt.Errorf("journal: seek: %w", err)
	}

	r := bufio.NewReaderSize(j.f, 64*1024)

	var goodOffset int64
	prev := ""
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// EOF with leftover bytes is a partial write from an unclean
			// shutdown; either way, cut back to the last verified entry.
			if len(line) > 0 {
				j.logger.Warn("journal: partial trailing entry, truncating",
					"path", j.path, "offset", goodOffset)
			}
			return j.truncate(goodOffset)
		}

		var e model.JournalEvent
		if err := json.Unmarshal(line, &e); err != nil {
			j.logger.Warn("journal: unparseable entry, truncating",
				"path", j.path, "offset", goodOffset, "error", err)
			return j.truncate(goodOffset)
		}
		ok, err := integrity.VerifyEventHash(prev, e)
		if err != nil || !ok || e.PrevHash != prev {
			j.logger.Warn("journal: chain break, truncating",
				"path", j.path, "offset", goodOffset, "event_id", e.EventID)
			return j.truncate(goodOffset)
		}

		j.events = append(j.events, e)
		prev = e.Hash
		goodOffset += int64(len(line))
		if len(line) > maxEntryBytes {
			j.logger.Warn("journal: oversized entry", "path", j.path, "bytes", len(line))
		}
	}
}

func (j *Journal) truncate(offset int64) error {
	if err := j.f.Truncate(offset); err != nil {
		return fmt.Errorf("journal: truncate to %d: %w", offset, err)
	}
	if _, err := j.f.Seek(offset, 0); err != nil {
		return fmt.Errorf("journal: seek after truncate: %w", err)
	}
	if len(j.events) > 0 {
		j.head = j.events[len(j.events)-1].Hash
	} else {
		j.head = ""
	}
	return nil
}

// Append hashes, persists, and fans out one event. EventID and Timestamp are
// assigned here. The payload goes through a JSON round-trip so persisted and
// recomputed hashes agree regardless of the caller's payload type, and
// configured redaction fields are stripped before hashing.
//
// Appends are strictly serialized to preserve chain ordering. A write error
// fails this append only; the in-memory chain does not advance, and any
// partial line is cut back immediately.
func (j *Journal) Append(ctx context.Context, eventType model.EventType, sessionID string, payload any) (model.JournalEvent, error) {
	canonical, err := normalizePayload(payload)
	if err != nil {
		return model.JournalEvent{}, err
	}
	for field := range j.redact {
		delete(canonical, field)
	}

	e := model.JournalEvent{
		EventID:   uuid.New(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   canonical,
	}

	j.mu.Lock()
	e.PrevHash = j.head
	e.Hash, err = integrity.ComputeEventHash(j.head, e)
	if err != nil {
		j.mu.Unlock()
		return model.JournalEvent{}, err
	}

	line, err := json.Marshal(e)
	if err != nil {
		j.mu.Unlock()
		return model.JournalEvent{}, fmt.Errorf("journal: marshal event: %w", err)
	}

	offset, err := j.f.Seek(0, 2)
	if err != nil {
		j.mu.Unlock()
		return model.JournalEvent{}, fmt.Errorf("journal: seek end: %w", err)
	}
	if _, err := j.f.Write(append(line, '\n')); err != nil {
		// Cut back a possible partial line so the on-disk chain stays clean.
		_ = j.f.Truncate(offset)
		j.mu.Unlock()
		return model.JournalEvent{}, fmt.Errorf("journal: append: %w", err)
	}
	if j.fsync {
		if err := j.f.Sync(); err != nil {
			j.mu.Unlock()
			return model.JournalEvent{}, fmt.Errorf("journal: fsync: %w", err)
		}
	}

	j.head = e.Hash
	j.events = append(j.events, e)
	j.mu.Unlock()

	if j.appends != nil {
		j.appends.Add(ctx, 1)
	}
	j.notify(e)
	return e, nil
}

// notify invokes subscribers synchronously in registration order. A panic in
// one subscriber is contained: it neither aborts the append nor starves the
// remaining subscribers.
func (j *Journal) notify(e model.JournalEvent) {
	j.subMu.RLock()
	subs := make([]subscriber, len(j.subs))
	copy(subs, j.subs)
	j.subMu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					j.logger.Warn("journal: subscriber panic", "panic", r, "event_id", e.EventID)
				}
			}()
			s.fn(e)
		}()
	}
}

// On registers a listener for every future append and returns its
// unsubscribe function.
func (j *Journal) On(fn func(model.JournalEvent)) (unsubscribe func()) {
	j.subMu.Lock()
	id := j.nextSub
	j.nextSub++
	j.subs = append(j.subs, subscriber{id: id, fn: fn})
	j.subMu.Unlock()

	return func() {
		j.subMu.Lock()
		defer j.subMu.Unlock()
		for i, s := range j.subs {
			if s.id == id {
				j.subs = append(j.subs[:i], j.subs[i+1:]...)
				return
			}
		}
	}
}

// ReadAll returns every event in append order.
func (j *Journal) ReadAll() []model.JournalEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.JournalEvent, len(j.events))
	copy(out, j.events)
	return out
}

// Read returns up to limit events starting at offset, in append order.
// A limit <= 0 means no limit.
func (j *Journal) Read(offset, limit int) []model.JournalEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset < 0 || offset >= len(j.events) {
		return nil
	}
	end := len(j.events)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]model.JournalEvent, end-offset)
	copy(out, j.events[offset:end])
	return out
}

// Len returns the number of events in the journal.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// Head returns the current chain head hash ("" for an empty journal).
func (j *Journal) Head() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Verify recomputes the whole chain without trusting stored hashes.
// Returns the index of the first invalid event, or -1.
func (j *Journal) Verify() (int, error) {
	return integrity.VerifyChain(j.ReadAll())
}

// Close syncs and closes the backing file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	if err := j.f.Sync(); err != nil {
		j.logger.Warn("journal: final sync failed", "error", err)
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// normalizePayload converts an arbitrary payload to its canonical map form
// via a JSON round-trip, so typed payload structs and maps hash identically.
func normalizePayload(payload any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("journal: marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("journal: payload must be a JSON object: %w", err)
	}
	return m, nil
}

// registerMetrics exports journal health gauges.
func (j *Journal) registerMetrics() {
	meter := telemetry.Meter("torii/journal")

	var err error
	j.appends, err = meter.Int64Counter("torii.journal.appends",
		metric.WithDescription("Total events appended to the journal"))
	if err != nil {
		j.appends = nil
	}

	_, _ = meter.Int64ObservableGauge("torii.journal.events",
		metric.WithDescription("Current number of events in the journal"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(j.Len()))
			return nil
		}),
	)
}
