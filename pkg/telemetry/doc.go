// Package telemetry bundles the driver's observability surface:
// structured logging on zerolog, Prometheus metrics, OpenTelemetry
// tracing, and an in-process event stream for inventory and workflow
// lifecycle changes.
package telemetry
