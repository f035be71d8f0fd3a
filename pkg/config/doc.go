// Package config loads and validates the driver's YAML configuration.
//
// A single file configures the persistent store, controller session
// lifetimes, the inventory sync interval, the provisioning workflow
// poll budget, operator policy directories, and telemetry. Every
// setting has a default; an empty file is a valid configuration.
//
// The Watcher reloads the file on change so long-running processes
// pick up operator edits without a restart.
package config
