package policy

// BuiltinPolicies returns the guard policies the driver ships with.
func BuiltinPolicies() []Policy {
	return []Policy{
		bladeAvailabilityPolicy(),
		profileOrgPolicy(),
		boundHostPolicy(),
		endpointURLPolicy(),
	}
}

// bladeAvailabilityPolicy blocks associating a blade the controller
// already reports as assigned.
func bladeAvailabilityPolicy() Policy {
	return Policy{
		Name:        "blade-availability",
		Description: "Blocks association onto a blade that is already assigned",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"association", "safety"},
		Rego: `package driver.policies.availability

import rego.v1

deny contains violation if {
	input.operation == "associate"
	input.blade.assigned_to != ""
	violation := {
		"message": sprintf("blade %s is already assigned to %s", [input.blade.dn, input.blade.assigned_to]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "associate"
	input.blade.association == "associated"
	violation := {
		"message": sprintf("blade %s already has an associated profile", [input.blade.dn]),
		"severity": "error",
	}
}
`,
	}
}

// profileOrgPolicy keeps profile sources inside the managed org tree.
func profileOrgPolicy() Policy {
	return Policy{
		Name:        "profile-org",
		Description: "Profile and template sources must live under org-root",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"association", "naming"},
		Rego: `package driver.policies.org

import rego.v1

deny contains violation if {
	input.operation in {"associate", "instantiate"}
	not startswith(input.profile_dn, "org-root/")
	violation := {
		"message": sprintf("profile source %s is outside org-root", [input.profile_dn]),
		"severity": "error",
	}
}
`,
	}
}

// boundHostPolicy blocks profile workflows on a blade that still
// backs a registered host.
func boundHostPolicy() Policy {
	return Policy{
		Name:        "bound-host",
		Description: "Blocks profile workflows while the blade still backs a host",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"association", "disassociation", "safety"},
		Rego: `package driver.policies.bound

import rego.v1

deny contains violation if {
	input.operation in {"associate", "instantiate", "disassociate"}
	input.blade.host_id != ""
	violation := {
		"message": sprintf("blade %s still backs host %s", [input.blade.dn, input.blade.host_id]),
		"severity": "error",
	}
}
`,
	}
}

// endpointURLPolicy warns about endpoints registered over plain http.
func endpointURLPolicy() Policy {
	return Policy{
		Name:        "endpoint-url",
		Description: "Warns when an endpoint is registered without TLS",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"endpoint"},
		Rego: `package driver.policies.endpoint

import rego.v1

deny contains violation if {
	input.operation == "add_endpoint"
	startswith(input.endpoint.url, "http://")
	violation := {
		"message": sprintf("endpoint %s uses plain http", [input.endpoint.name]),
		"severity": "warning",
	}
}
`,
	}
}
