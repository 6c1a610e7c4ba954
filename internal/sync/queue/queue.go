// Package queue provides the durable sync queue: an ordered, persistent log
// of pending mutations, kept apart from the record data itself so that intent
// to synchronize survives a process restart mid-drain.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Action represents the kind of pending mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Status represents the lifecycle state of a queued item. Items are pending
// until confirmed (then removed) or dead-lettered for manual inspection.
type Status string

const (
	StatusPending Status = "pending"
	StatusDead    Status = "dead"
)

// Item represents one pending mutation.
type Item struct {
	Seq         int64           `db:"seq" json:"seq"`
	RecordID    string          `db:"record_id" json:"record_id"`
	Action      Action          `db:"action" json:"action"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	Status      Status          `db:"status" json:"status"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// Queue is the durable mutation log. Sequence numbers increase monotonically;
// Drain order is the authoritative retry order.
type Queue interface {
	// Enqueue appends a mutation at the tail with a payload snapshot.
	Enqueue(ctx context.Context, recordID string, action Action, payload json.RawMessage) (*Item, error)

	// Drain returns pending items whose retry time has arrived, oldest
	// sequence first.
	Drain(ctx context.Context) ([]*Item, error)

	// Pending returns every pending item regardless of retry schedule,
	// oldest sequence first. Inspection surface, not the drain path.
	Pending(ctx context.Context) ([]*Item, error)

	// Complete removes a confirmed item.
	Complete(ctx context.Context, seq int64) error

	// MarkRetry records a transient failure: increments the retry count and
	// schedules the next attempt with exponential backoff. When the retry
	// budget is exhausted the item is dead-lettered instead; the returned
	// item reflects the new state.
	MarkRetry(ctx context.Context, seq int64, cause error) (*Item, error)

	// MarkDead dead-letters an item after a permanent rejection.
	MarkDead(ctx context.Context, seq int64, cause error) error

	// Remove deletes all items referencing a record id, any status.
	Remove(ctx context.Context, recordID string) error

	// Remap finalizes a create acknowledgment: items for oldID up to and
	// including afterSeq are removed, later items are rewritten to newID in
	// place, preserving their relative order. Returns the number remapped.
	Remap(ctx context.Context, oldID, newID string, afterSeq int64) (int, error)

	// PendingCount returns the number of pending items.
	PendingCount(ctx context.Context) (int, error)

	// CountForRecord returns the number of pending items for one record.
	CountForRecord(ctx context.Context, recordID string) (int, error)

	// DeadLetters returns dead-lettered items for manual inspection.
	DeadLetters(ctx context.Context) ([]*Item, error)

	// RetryDead resets dead items to pending with a fresh retry budget.
	// Returns the number reset.
	RetryDead(ctx context.Context) (int, error)

	// Clear removes every item. Tests and recovery procedures only.
	Clear(ctx context.Context) error
}

// Config tunes retry behavior.
type Config struct {
	MaxRetries  int           // attempts before dead-lettering (default 8)
	BackoffBase time.Duration // first retry delay (default 30s)
	BackoffCap  time.Duration // backoff ceiling (default 1h)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  8,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	return c
}

// backoffDelay calculates the exponential backoff delay for a retry count.
// Formula: base * 2^(retries-1), capped.
func (c Config) backoffDelay(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	delay := c.BackoffBase
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	if delay > c.BackoffCap {
		return c.BackoffCap
	}
	return delay
}
