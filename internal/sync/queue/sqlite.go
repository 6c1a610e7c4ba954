package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/itadriver/fieldsync/internal/db"
	apperrors "github.com/itadriver/fieldsync/internal/errors"
)

// SQLite is the durable queue over the device database. Enqueue and Remap
// join a surrounding transaction when the context carries one, which is how
// a Local Store write and its queue entry commit as a single unit.
type SQLite struct {
	db     *db.DB
	config Config
	now    func() time.Time
}

// NewSQLite creates a durable queue. nowFn may be nil to use time.Now.
func NewSQLite(database *db.DB, config Config, nowFn func() time.Time) *SQLite {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SQLite{
		db:     database,
		config: config.withDefaults(),
		now:    nowFn,
	}
}

const itemColumns = "seq, record_id, action, payload, retry_count, max_retries, next_retry_at, status, last_error, created_at, updated_at"

// Enqueue appends a mutation at the tail.
func (q *SQLite) Enqueue(ctx context.Context, recordID string, action Action, payload json.RawMessage) (*Item, error) {
	if recordID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	now := q.now().Unix()
	query := `
	INSERT INTO sync_queue (record_id, action, payload, max_retries, next_retry_at, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, 0, 'pending', ?, ?)
	`
	res, err := q.db.Q(ctx).ExecContext(ctx, query,
		recordID, string(action), []byte(payload), q.config.MaxRetries, now, now)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enqueue mutation", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read sequence", err)
	}

	return &Item{
		Seq:        seq,
		RecordID:   recordID,
		Action:     action,
		Payload:    payload,
		MaxRetries: q.config.MaxRetries,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Drain returns ready pending items, oldest sequence first.
func (q *SQLite) Drain(ctx context.Context) ([]*Item, error) {
	query := "SELECT " + itemColumns + `
	FROM sync_queue WHERE status = 'pending' AND next_retry_at <= ?
	ORDER BY seq ASC`

	rows, err := q.db.Q(ctx).QueryContext(ctx, query, q.now().Unix())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to drain queue", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Pending returns every pending item regardless of retry schedule.
func (q *SQLite) Pending(ctx context.Context) ([]*Item, error) {
	query := "SELECT " + itemColumns + " FROM sync_queue WHERE status = 'pending' ORDER BY seq ASC"

	rows, err := q.db.Q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending items", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Complete removes a confirmed item.
func (q *SQLite) Complete(ctx context.Context, seq int64) error {
	_, err := q.db.Q(ctx).ExecContext(ctx, "DELETE FROM sync_queue WHERE seq = ?", seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to complete item", err)
	}
	return nil
}

// MarkRetry schedules the next attempt with exponential backoff, or
// dead-letters the item when its retry budget is exhausted.
func (q *SQLite) MarkRetry(ctx context.Context, seq int64, cause error) (*Item, error) {
	item, err := q.get(ctx, seq)
	if err != nil {
		return nil, err
	}

	now := q.now()
	item.RetryCount++
	item.LastError = cause.Error()
	item.UpdatedAt = now.Unix()

	if item.RetryCount >= item.MaxRetries {
		item.Status = StatusDead
	} else {
		item.NextRetryAt = now.Add(q.config.backoffDelay(item.RetryCount)).Unix()
	}

	query := `
	UPDATE sync_queue
	SET retry_count = ?, next_retry_at = ?, status = ?, last_error = ?, updated_at = ?
	WHERE seq = ?
	`
	_, err = q.db.Q(ctx).ExecContext(ctx, query,
		item.RetryCount, item.NextRetryAt, string(item.Status), item.LastError,
		item.UpdatedAt, seq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to mark retry", err)
	}
	return item, nil
}

// MarkDead dead-letters an item after a permanent rejection.
func (q *SQLite) MarkDead(ctx context.Context, seq int64, cause error) error {
	query := `
	UPDATE sync_queue SET status = 'dead', last_error = ?, updated_at = ?
	WHERE seq = ?
	`
	_, err := q.db.Q(ctx).ExecContext(ctx, query, cause.Error(), q.now().Unix(), seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to dead-letter item", err)
	}
	return nil
}

// Remove deletes all items referencing a record id.
func (q *SQLite) Remove(ctx context.Context, recordID string) error {
	_, err := q.db.Q(ctx).ExecContext(ctx,
		"DELETE FROM sync_queue WHERE record_id = ?", recordID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove items", err)
	}
	return nil
}

// Remap finalizes a create acknowledgment in one transaction: rows for oldID
// up to afterSeq are dropped, trailing rows are rewritten to newID in place.
// Rewriting keeps the original sequence numbers, so relative order holds.
func (q *SQLite) Remap(ctx context.Context, oldID, newID string, afterSeq int64) (int, error) {
	remapped := 0
	err := q.db.WithTx(ctx, func(ctx context.Context) error {
		qr := q.db.Q(ctx)

		_, err := qr.ExecContext(ctx,
			"DELETE FROM sync_queue WHERE record_id = ? AND seq <= ?", oldID, afterSeq)
		if err != nil {
			return err
		}

		res, err := qr.ExecContext(ctx,
			"UPDATE sync_queue SET record_id = ?, updated_at = ? WHERE record_id = ? AND seq > ?",
			newID, q.now().Unix(), oldID, afterSeq)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		remapped = int(n)
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to remap items", err)
	}
	return remapped, nil
}

// PendingCount returns the number of pending items.
func (q *SQLite) PendingCount(ctx context.Context) (int, error) {
	return q.count(ctx, "SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'")
}

// CountForRecord returns the number of pending items for one record.
func (q *SQLite) CountForRecord(ctx context.Context, recordID string) (int, error) {
	return q.count(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE status = 'pending' AND record_id = ?",
		recordID)
}

// DeadLetters returns dead-lettered items for manual inspection.
func (q *SQLite) DeadLetters(ctx context.Context) ([]*Item, error) {
	query := "SELECT " + itemColumns + " FROM sync_queue WHERE status = 'dead' ORDER BY seq ASC"

	rows, err := q.db.Q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list dead letters", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// RetryDead resets dead items to pending with a fresh retry budget.
func (q *SQLite) RetryDead(ctx context.Context) (int, error) {
	query := `
	UPDATE sync_queue
	SET status = 'pending', retry_count = 0, next_retry_at = 0, last_error = '', updated_at = ?
	WHERE status = 'dead'
	`
	res, err := q.db.Q(ctx).ExecContext(ctx, query, q.now().Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to retry dead letters", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to retry dead letters", err)
	}
	return int(n), nil
}

// Clear removes every item.
func (q *SQLite) Clear(ctx context.Context) error {
	_, err := q.db.Q(ctx).ExecContext(ctx, "DELETE FROM sync_queue")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear queue", err)
	}
	return nil
}

func (q *SQLite) get(ctx context.Context, seq int64) (*Item, error) {
	query := "SELECT " + itemColumns + " FROM sync_queue WHERE seq = ?"

	item, err := scanItem(q.db.Q(ctx).QueryRowContext(ctx, query, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %d not found", seq)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get item", err)
	}
	return item, nil
}

func (q *SQLite) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := q.db.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count items", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item    Item
		action  string
		status  string
		payload []byte
	)
	err := row.Scan(&item.Seq, &item.RecordID, &action, &payload,
		&item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &status,
		&item.LastError, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Action = Action(action)
	item.Status = Status(status)
	if payload != nil {
		item.Payload = payload
	}
	return &item, nil
}

var _ Queue = (*SQLite)(nil)

func scanItems(rows *sql.Rows) ([]*Item, error) {
	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan item", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate items", err)
	}
	return out, nil
}
