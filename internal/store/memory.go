package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/models"
)

// Memory is an in-memory Store used by tests and by deployments that accept
// losing local state on restart. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.Record)}
}

// Put upserts a record by id.
func (m *Memory) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.ID] = rec.Clone()
	return nil
}

// Get returns the record or NOT_FOUND.
func (m *Memory) Get(ctx context.Context, id string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	return rec.Clone(), nil
}

// Query returns matching records, newest first.
func (m *Memory) Query(ctx context.Context, f Filter) ([]*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Record
	for _, rec := range m.records {
		if f.Match(rec) {
			out = append(out, rec.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})

	return paginate(out, f), nil
}

// Delete removes a record.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// Rekey atomically moves a record from oldID to newID.
func (m *Memory) Rekey(ctx context.Context, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[newID]; ok {
		return apperrors.Newf(apperrors.ErrConflict, "record %s already exists", newID)
	}
	rec, ok := m.records[oldID]
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", oldID)
	}

	delete(m.records, oldID)
	rec.ID = newID
	m.records[newID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

// paginate applies Limit/Offset to an already ordered slice.
func paginate(recs []*models.Record, f Filter) []*models.Record {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return nil
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}
