// Package store defines the Durable Local Store abstraction: a persistent
// record store with point lookups, filtered listings, and atomic rekeying.
// Backends: sqlite (primary, see store/sqlite), bbolt (store/bolt), and an
// in-memory implementation for tests.
package store

import (
	"context"

	"github.com/itadriver/fieldsync/internal/models"
)

// Filter selects records for Query. Zero-value fields are ignored.
type Filter struct {
	OwnerID string
	Status  string
	Type    string
	Limit   int
	Offset  int
}

// Store persists Records across process restarts. All operations are durable
// on return; Put writes whole records and never merges.
type Store interface {
	// Put upserts a record by id, overwriting any prior version.
	Put(ctx context.Context, rec *models.Record) error

	// Get returns the record or an error carrying errors.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)

	// Query returns records matching the filter, newest first (updated_at
	// descending).
	Query(ctx context.Context, f Filter) ([]*models.Record, error)

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Rekey atomically moves a record from oldID to newID. It fails with
	// errors.ErrNotFound if oldID is absent and errors.ErrConflict if newID
	// already exists.
	Rekey(ctx context.Context, oldID, newID string) error

	Close() error
}

// Match reports whether a record satisfies the filter fields. Shared by the
// backends that filter by scan.
func (f Filter) Match(rec *models.Record) bool {
	if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	return true
}
