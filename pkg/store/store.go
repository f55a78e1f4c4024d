// Package store provides the tabular-store collaborator: the raw row/header
// boundary the schema registry translates across. Two implementations ship:
// a SQLite adapter for real use and an in-memory one for tests.
package store

import (
	"context"
	"errors"
)

// ErrUnknownEntity is returned when an entity was never created.
var ErrUnknownEntity = errors.New("unknown entity")

// Predicate decides whether a record (keyed by column label) matches.
type Predicate func(record map[string]string) bool

// WriteOptions select between appending rows and overwriting one row
// in place.
type WriteOptions struct {
	Append     bool
	AtRowIndex int // zero-based; used when Append is false
}

// Tabular is the contract of the external tabular store. Rows and headers
// are raw; translation to logical names is the schema registry's job.
type Tabular interface {
	// EnsureEntity creates the entity's backing table with the given
	// column labels if it does not exist yet.
	EnsureEntity(ctx context.Context, entity string, headers []string) error

	// ReadRows returns the live headers and all rows in storage order.
	ReadRows(ctx context.Context, entity string) (headers []string, rows [][]string, err error)

	// WriteRows persists records (keyed by column label) either appended
	// or at a fixed row index.
	WriteRows(ctx context.Context, entity string, records []map[string]string, opts WriteOptions) error

	// FindRowMatching returns the zero-based index of the first row the
	// predicate matches, or found=false.
	FindRowMatching(ctx context.Context, entity string, pred Predicate) (index int, found bool, err error)
}
