// Package ucs implements the client for the blade management
// controller: XML command construction, session cookie lifecycle, and
// the HTTP transport with error classification.
package ucs
