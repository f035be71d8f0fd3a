// Package stores provides the persistence layer for remote endpoints
// and the blade records discovered on them.
package stores
