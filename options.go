package torii

import (
	"log/slog"
	"time"

	"github.com/ashita-ai/torii/internal/breaker"
	"github.com/ashita-ai/torii/internal/executor"
)

// Option configures a Torii instance.
type Option func(*resolvedOptions)

// resolvedOptions holds all configuration overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger         *slog.Logger
	version        string
	journalPath    string
	fsync          *bool
	redactFields   []string
	grantsPath     string
	prompter       PromptFunc
	ambient        *executor.Policy
	breakerConfig  *breaker.Config
	defaultTimeout time.Duration
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithJournalPath overrides the journal file from config (TORII_JOURNAL_PATH).
func WithJournalPath(path string) Option {
	return func(o *resolvedOptions) { o.journalPath = path }
}

// WithFsync overrides journal fsync-per-append from config (TORII_JOURNAL_FSYNC).
func WithFsync(fsync bool) Option {
	return func(o *resolvedOptions) { o.fsync = &fsync }
}

// WithRedactFields sets the top-level payload fields stripped from journal
// events before hashing and persisting.
func WithRedactFields(fields ...string) Option {
	return func(o *resolvedOptions) { o.redactFields = fields }
}

// WithGrantStorePath overrides the sqlite file used for allow_always grants
// (TORII_GRANTS_PATH). Empty disables persistence; grants then live only as
// long as the process.
func WithGrantStorePath(path string) Option {
	return func(o *resolvedOptions) { o.grantsPath = path }
}

// WithPrompter sets the approval surface consulted on permission cache
// misses. Without one, every prompt resolves to deny.
func WithPrompter(p PromptFunc) Option {
	return func(o *resolvedOptions) { o.prompter = p }
}

// WithAmbientPolicy replaces the config-derived baseline execution policy.
func WithAmbientPolicy(pol ExecPolicy) Option {
	return func(o *resolvedOptions) { o.ambient = &pol }
}

// WithBreakerConfig replaces the built-in circuit breaker category table.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(o *resolvedOptions) { o.breakerConfig = &cfg }
}

// WithDefaultTimeout overrides the timeout applied to tools whose manifest
// omits timeout_ms (TORII_DEFAULT_TIMEOUT).
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.defaultTimeout = d }
}
