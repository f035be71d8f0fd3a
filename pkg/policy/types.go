package policy

import "time"

// Severity is the weight of a policy violation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Policy is one guard rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is one rule the input broke.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies against one
// operation.
type Result struct {
	// Allowed is false when any violation carries error severity.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate; they never
	// block the operation.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Blade is the policy-input view of a managed blade.
type Blade struct {
	Dn          string `json:"dn"`
	Association string `json:"association"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	ProfileDn   string `json:"profile_dn,omitempty"`
	HostID      string `json:"host_id,omitempty"`
}

// Endpoint is the policy-input view of a controller endpoint.
type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// Input is the document handed to Rego as `input`.
type Input struct {
	// Operation names the workflow being guarded: "associate",
	// "disassociate", "instantiate", "add_endpoint".
	Operation string `json:"operation"`

	Blade    *Blade    `json:"blade,omitempty"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`

	// ProfileDn is the source profile or template of an association.
	ProfileDn string `json:"profile_dn,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
