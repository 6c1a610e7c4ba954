package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
)

// Memory is an in-memory Queue for tests. Same semantics as the sqlite
// implementation, no durability.
type Memory struct {
	mu     sync.Mutex
	items  []*Item
	seq    int64
	config Config
	now    func() time.Time
}

// NewMemory creates an empty in-memory queue. nowFn may be nil.
func NewMemory(config Config, nowFn func() time.Time) *Memory {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{
		config: config.withDefaults(),
		now:    nowFn,
	}
}

// Enqueue appends a mutation at the tail.
func (m *Memory) Enqueue(ctx context.Context, recordID string, action Action, payload json.RawMessage) (*Item, error) {
	if recordID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := m.now().Unix()
	item := &Item{
		Seq:        m.seq,
		RecordID:   recordID,
		Action:     action,
		Payload:    append(json.RawMessage(nil), payload...),
		MaxRetries: m.config.MaxRetries,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.items = append(m.items, item)
	return copyItem(item), nil
}

// Drain returns ready pending items, oldest sequence first.
func (m *Memory) Drain(ctx context.Context) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	var out []*Item
	for _, item := range m.items {
		if item.Status == StatusPending && item.NextRetryAt <= now {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

// Pending returns every pending item regardless of retry schedule.
func (m *Memory) Pending(ctx context.Context) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Item
	for _, item := range m.items {
		if item.Status == StatusPending {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

// Complete removes a confirmed item.
func (m *Memory) Complete(ctx context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = filterItems(m.items, func(it *Item) bool { return it.Seq != seq })
	return nil
}

// MarkRetry schedules the next attempt or dead-letters on budget exhaustion.
func (m *Memory) MarkRetry(ctx context.Context, seq int64, cause error) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.find(seq)
	if item == nil {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %d not found", seq)
	}

	now := m.now()
	item.RetryCount++
	item.LastError = cause.Error()
	item.UpdatedAt = now.Unix()
	if item.RetryCount >= item.MaxRetries {
		item.Status = StatusDead
	} else {
		item.NextRetryAt = now.Add(m.config.backoffDelay(item.RetryCount)).Unix()
	}
	return copyItem(item), nil
}

// MarkDead dead-letters an item.
func (m *Memory) MarkDead(ctx context.Context, seq int64, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.find(seq)
	if item == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "queue item %d not found", seq)
	}
	item.Status = StatusDead
	item.LastError = cause.Error()
	item.UpdatedAt = m.now().Unix()
	return nil
}

// Remove deletes all items referencing a record id.
func (m *Memory) Remove(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = filterItems(m.items, func(it *Item) bool { return it.RecordID != recordID })
	return nil
}

// Remap drops rows for oldID up to afterSeq and rewrites trailing rows.
func (m *Memory) Remap(ctx context.Context, oldID, newID string, afterSeq int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	remapped := 0
	var kept []*Item
	for _, item := range m.items {
		if item.RecordID == oldID {
			if item.Seq <= afterSeq {
				continue
			}
			item.RecordID = newID
			item.UpdatedAt = now
			remapped++
		}
		kept = append(kept, item)
	}
	m.items = kept
	return remapped, nil
}

// PendingCount returns the number of pending items.
func (m *Memory) PendingCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, item := range m.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// CountForRecord returns the number of pending items for one record.
func (m *Memory) CountForRecord(ctx context.Context, recordID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, item := range m.items {
		if item.Status == StatusPending && item.RecordID == recordID {
			n++
		}
	}
	return n, nil
}

// DeadLetters returns dead-lettered items.
func (m *Memory) DeadLetters(ctx context.Context) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Item
	for _, item := range m.items {
		if item.Status == StatusDead {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

// RetryDead resets dead items to pending.
func (m *Memory) RetryDead(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	n := 0
	for _, item := range m.items {
		if item.Status == StatusDead {
			item.Status = StatusPending
			item.RetryCount = 0
			item.NextRetryAt = 0
			item.LastError = ""
			item.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Clear removes every item.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
	return nil
}

func (m *Memory) find(seq int64) *Item {
	for _, item := range m.items {
		if item.Seq == seq {
			return item
		}
	}
	return nil
}

func copyItem(item *Item) *Item {
	out := *item
	if item.Payload != nil {
		out.Payload = append(json.RawMessage(nil), item.Payload...)
	}
	return &out
}

func filterItems(items []*Item, keep func(*Item) bool) []*Item {
	var out []*Item
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

var _ Queue = (*Memory)(nil)
