package registry

import (
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// TrustLevel classifies how much a tool's provider is trusted. Untrusted
// providers always fail permission checks.
type TrustLevel string

const (
	// TrustUntrusted providers may never execute.
	TrustUntrusted TrustLevel = "untrusted"
	// TrustLow is the default for unvetted third-party providers.
	TrustLow TrustLevel = "low"
	// TrustMedium is for reviewed providers.
	TrustMedium TrustLevel = "medium"
	// TrustHigh is for vetted first-party providers.
	TrustHigh TrustLevel = "high"
	// TrustSystem is for built-in capabilities.
	TrustSystem TrustLevel = "system"
)

// rank orders trust levels for sorting and comparisons.
func (t TrustLevel) rank() int {
	switch t {
	case TrustUntrusted:
		return 0
	case TrustLow:
		return 1
	case TrustMedium:
		return 2
	case TrustHigh:
		return 3
	case TrustSystem:
		return 4
	default:
		return -1
	}
}

// ExecContext describes the caller of a prospective tool execution; access
// restrictions evaluate their predicates against it.
type ExecContext struct {
	// Role is the caller's role. Empty means "no role claimed"; role checks
	// only apply when a role is present.
	Role string

	// Attributes carries arbitrary caller context for restriction predicates.
	Attributes map[string]any
}

// AccessRestriction is a named predicate that must hold for execution.
type AccessRestriction struct {
	Name  string
	Check func(ExecContext) bool
}

// SecurityPolicy governs who may execute a tool and under what controls.
type SecurityPolicy struct {
	// RequiredPermissions mirror the descriptor's declared permissions.
	RequiredPermissions []string

	// AllowedRoles restricts execution by caller role. Empty means no role
	// restriction.
	AllowedRoles []string

	// Restrictions are additional predicates evaluated per execution context.
	Restrictions []AccessRestriction

	// RequireAudit emits a structured execution-log event per invocation.
	RequireAudit bool

	// RequireApproval flags the tool for out-of-band approval flows.
	RequireApproval bool

	// Sandboxed flags the tool for sandboxed execution.
	Sandboxed bool
}

// Provider describes where a tool comes from.
type Provider struct {
	Name       string
	TrustLevel TrustLevel
}

// Stats is the per-tool usage accounting, updated on every execution.
type Stats struct {
	UsageCount   int64
	SuccessCount int64
	ErrorCount   int64

	// AvgExecTime is the running average over all executions.
	AvgExecTime time.Duration

	// TotalExecTime is the sum of all execution durations.
	TotalExecTime time.Duration

	// LastExecTime is the duration of the most recent execution.
	LastExecTime time.Duration

	LastUsedAt time.Time
}

// Metadata is one registry record. The registry hands out copies; mutation
// happens only through registry operations so the secondary indexes stay
// consistent with the primary table.
type Metadata struct {
	ID          string
	Name        string
	Version     string
	Category    string
	Description string

	InputSchema *jsonschema.Schema
	Tags        []string

	Security SecurityPolicy
	Provider Provider

	Enabled   bool
	Loaded    bool
	Validated bool

	RegisteredAt time.Time
	Stats        Stats
}

// Descriptor is the capability description supplied at registration,
// typically derived from a discovery result.
type Descriptor struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	// Version defaults to "1.0.0" when empty.
	Version string

	// Category defaults to "general" when empty.
	Category string

	// Permissions are the permission names the tool requires.
	Permissions []string

	// Provider defaults to the remote provider at the registry's configured
	// default trust level when nil.
	Provider *Provider
}

// RegisterOptions customize one registration.
type RegisterOptions struct {
	// AutoLoad attempts a load immediately after registration. Load failure
	// is recorded in the metadata but does not fail the registration.
	AutoLoad bool

	// SkipValidation bypasses schema and security-policy validation.
	SkipValidation bool

	// Overwrite replaces an existing registration of the same name; without
	// it, duplicates are rejected.
	Overwrite bool

	// Tags index the tool for tag queries.
	Tags []string

	// Security overrides the defaulted security policy wholesale.
	Security *SecurityPolicy
}

// Decision is the outcome of a permission check. All violated reasons are
// collected, not just the first.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Compatibility is the result of a version compatibility check.
type Compatibility string

const (
	// Compatible means the tool's version meets the caller's minimum.
	Compatible Compatibility = "compatible"
	// Incompatible means the tool's version is below the caller's minimum.
	Incompatible Compatibility = "incompatible"
	// CompatibilityUnknown means the tool is not registered.
	CompatibilityUnknown Compatibility = "unknown"
)
