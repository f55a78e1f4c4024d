// Package domain provides the shared kernel for the daymark pipeline:
// run identity, the event vocabulary, and the error taxonomy. Every other
// package depends on domain; domain depends on nothing above it.
package domain

import "github.com/google/uuid"

// RunID identifies one pipeline run. Every event and context produced by a
// run carries the same RunID, which is what keeps concurrent runs apart.
type RunID string

// NewRunID generates a fresh run identifier.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id RunID) String() string { return string(id) }

// IsZero reports whether the ID is empty.
func (id RunID) IsZero() bool { return id == "" }
