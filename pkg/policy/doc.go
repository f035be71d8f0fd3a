// Package policy evaluates Rego guard policies before provisioning
// workflows mutate controller or array state. Built-in policies ship
// with the driver; operators can layer their own .rego files on top.
package policy
