// Package engine holds the driver's control loops and workflows: the
// inventory reconciler that keeps persisted blade records aligned with
// controller state, the provisioning workflow engine that drives
// profile associations to convergence, and the Manager facade the CLI
// calls into.
package engine
