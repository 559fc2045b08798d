package model

import "fmt"

// DecisionKind is the tag of the approval decision variant.
type DecisionKind string

const (
	AllowOnce           DecisionKind = "allow_once"
	AllowSession        DecisionKind = "allow_session"
	AllowAlways         DecisionKind = "allow_always"
	Deny                DecisionKind = "deny"
	AllowConstrained    DecisionKind = "allow_constrained"
	AllowObserved       DecisionKind = "allow_observed"
	DenyWithAlternative DecisionKind = "deny_with_alternative"
)

// Constraints narrow a grant: they may only tighten a call, never widen it.
// Input overrides are shallow-merged into the request input and re-validated
// against the tool's input schema.
type Constraints struct {
	InputOverrides     map[string]any `json:"input_overrides,omitempty"`
	MaxDurationMs      int            `json:"max_duration_ms,omitempty"`
	ReadonlyPaths      []string       `json:"readonly_paths,omitempty"`
	WritablePaths      []string       `json:"writable_paths,omitempty"`
	OutputRedactFields []string       `json:"output_redact_fields,omitempty"`
	OutputAllowFields  []string       `json:"output_allow_fields,omitempty"`
}

// Alternative names a substitute tool offered alongside a denial.
type Alternative struct {
	ToolName       string         `json:"tool_name"`
	SuggestedInput map[string]any `json:"suggested_input,omitempty"`
}

// Decision is the tagged approval variant produced once per permission gate.
// Only the fields relevant to the Kind are populated.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Scope names the grant target for allow_constrained / allow_observed.
	Scope       string       `json:"scope,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`

	// TelemetryLevel applies to allow_observed.
	TelemetryLevel string `json:"telemetry_level,omitempty"`

	// Reason and Alternative apply to deny / deny_with_alternative.
	Reason      string       `json:"reason,omitempty"`
	Alternative *Alternative `json:"alternative,omitempty"`
}

// Allows reports whether the decision permits execution.
// Unknown kinds fail closed.
func (d Decision) Allows() bool {
	switch d.Kind {
	case AllowOnce, AllowSession, AllowAlways, AllowConstrained, AllowObserved:
		return true
	}
	return false
}

// Cacheable reports whether the decision populates the grant cache, and if
// so whether the grant outlives the session.
func (d Decision) Cacheable() (cache, permanent bool) {
	switch d.Kind {
	case AllowSession, AllowConstrained, AllowObserved:
		return true, false
	case AllowAlways:
		return true, true
	}
	return false, false
}

// Validate rejects decisions whose tag is outside the closed set.
func (d Decision) Validate() error {
	switch d.Kind {
	case AllowOnce, AllowSession, AllowAlways, Deny, AllowConstrained, AllowObserved, DenyWithAlternative:
		return nil
	}
	return fmt.Errorf("model: unknown decision kind %q", d.Kind)
}
