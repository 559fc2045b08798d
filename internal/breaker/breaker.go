// Package breaker implements per-tool failure isolation. Each tool name gets
// an independent closed → open → half-open state machine; repeated retriable
// failures trip the breaker so a known-bad tool stops consuming resources.
//
// State is in-memory only. A process restart starts every tool closed, which
// is the intended re-evaluation from scratch.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/torii/internal/telemetry"
)

// State of one tool's breaker.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CategoryConfig sets the trip threshold and cooldown for a tool category.
type CategoryConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// Config holds the category table and the default applied to uncategorized
// tools. Zero-valued fields fall back to built-in defaults.
type Config struct {
	Default    CategoryConfig
	Categories map[string]CategoryConfig
}

// DefaultConfig returns the built-in category table. LLM and social tools
// trip fast (expensive, rate-limited upstreams); shell tools get more slack.
func DefaultConfig() Config {
	return Config{
		Default: CategoryConfig{Threshold: 5, Cooldown: 30 * time.Second},
		Categories: map[string]CategoryConfig{
			"llm":    {Threshold: 3, Cooldown: 60 * time.Second},
			"shell":  {Threshold: 4, Cooldown: 30 * time.Second},
			"social": {Threshold: 3, Cooldown: 2 * time.Minute},
			"http":   {Threshold: 5, Cooldown: 15 * time.Second},
		},
	}
}

type toolState struct {
	state       State
	consecutive int
	trippedAt   time.Time
}

// Breaker tracks breaker state per tool name. Safe for concurrent use.
type Breaker struct {
	mu         sync.Mutex
	cfg        Config
	tools      map[string]*toolState
	categories map[string]string
	now        func() time.Time
}

// New creates a Breaker. Missing config fields take the built-in defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Default.Threshold <= 0 {
		cfg.Default.Threshold = def.Default.Threshold
	}
	if cfg.Default.Cooldown <= 0 {
		cfg.Default.Cooldown = def.Default.Cooldown
	}
	if cfg.Categories == nil {
		cfg.Categories = def.Categories
	}

	b := &Breaker{
		cfg:        cfg,
		tools:      make(map[string]*toolState),
		categories: make(map[string]string),
		now:        time.Now,
	}
	b.registerMetrics()
	return b
}

// SetCategory assigns a tool to a category, selecting its threshold and
// cooldown from the category table.
func (b *Breaker) SetCategory(tool, category string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.categories[tool] = category
}

// IsOpen reports whether calls to the tool are currently rejected.
//
// When an open breaker's cooldown has elapsed, the first IsOpen call
// transitions to half-open and returns false, admitting exactly one probe;
// trippedAt is reset so a second concurrent call before the probe resolves
// sees open again.
func (b *Breaker) IsOpen(tool string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tools[tool]
	if ts == nil {
		return false
	}
	switch ts.state {
	case Closed:
		return false
	case Open:
		if b.now().Sub(ts.trippedAt) >= b.configFor(tool).Cooldown {
			ts.state = HalfOpen
			ts.trippedAt = b.now()
			return false // the single probe
		}
		return true
	case HalfOpen:
		// A probe that never resolves (abandoned goroutine, non-retriable
		// outcome that records nothing) must not wedge the tool shut; after
		// another full cooldown a fresh probe is admitted.
		if b.now().Sub(ts.trippedAt) >= b.configFor(tool).Cooldown {
			ts.trippedAt = b.now()
			return false
		}
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the consecutive-failure count.
func (b *Breaker) RecordSuccess(tool string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tools[tool]
	if ts == nil {
		return
	}
	ts.state = Closed
	ts.consecutive = 0
	ts.trippedAt = time.Time{}
}

// RecordFailure counts one retriable failure. Callers must not record
// non-retriable failures (contract errors do not indicate tool
// unavailability). A half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure(tool string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tools[tool]
	if ts == nil {
		ts = &toolState{state: Closed}
		b.tools[tool] = ts
	}

	if ts.state == HalfOpen {
		ts.state = Open
		ts.trippedAt = b.now()
		return
	}

	ts.consecutive++
	if ts.consecutive >= b.configFor(tool).Threshold {
		ts.state = Open
		ts.trippedAt = b.now()
	}
}

// State returns the tool's current state without side effects.
func (b *Breaker) State(tool string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts := b.tools[tool]; ts != nil {
		return ts.state
	}
	return Closed
}

// configFor must be called with b.mu held.
func (b *Breaker) configFor(tool string) CategoryConfig {
	if cat, ok := b.categories[tool]; ok {
		if cc, ok := b.cfg.Categories[cat]; ok {
			return cc
		}
	}
	return b.cfg.Default
}

func (b *Breaker) openCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, ts := range b.tools {
		if ts.state == Open {
			n++
		}
	}
	return n
}

// registerMetrics exports a gauge of currently open breakers.
func (b *Breaker) registerMetrics() {
	meter := telemetry.Meter("torii/breaker")

	_, _ = meter.Int64ObservableGauge("torii.breaker.open",
		metric.WithDescription("Number of tools with an open circuit breaker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.openCount())
			return nil
		}),
	)
}
