// Package sqlite implements the Durable Local Store on the device database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/itadriver/fieldsync/internal/db"
	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
)

// Store persists records in the records table. Operations join a surrounding
// transaction when the context carries one (see db.WithTx).
type Store struct {
	db *db.DB
}

// New creates a sqlite-backed store. The schema must be initialized.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

const recordColumns = "id, owner_id, record_type, status, synced, updated_at, payload"

// Put upserts a record by id, overwriting any prior version.
func (s *Store) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	query := `
	INSERT INTO records (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		record_type = excluded.record_type,
		status = excluded.status,
		synced = excluded.synced,
		updated_at = excluded.updated_at,
		payload = excluded.payload
	`
	_, err := s.db.Q(ctx).ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Type, rec.Status, boolToInt(rec.Synced),
		rec.UpdatedAt, []byte(rec.Payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to put record", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE id = ?"

	rec, err := scanRecord(s.db.Q(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get record", err)
	}
	return rec, nil
}

// Query returns records matching the filter, updated_at descending.
func (s *Store) Query(ctx context.Context, f store.Filter) ([]*models.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		conds = append(conds, "record_type = ?")
		args = append(args, f.Type)
	}

	query := "SELECT " + recordColumns + " FROM records"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"

	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.Q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to query records", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate records", err)
	}
	return out, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.Q(ctx).ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete record", err)
	}
	return nil
}

// Rekey atomically moves a record from oldID to newID. Both checks and the
// update run in one transaction so a concurrent writer cannot interleave.
func (s *Store) Rekey(ctx context.Context, oldID, newID string) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.Q(ctx)

		var exists int
		err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM records WHERE id = ?", newID).Scan(&exists)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to check new id", err)
		}
		if exists > 0 {
			return apperrors.Newf(apperrors.ErrConflict, "record %s already exists", newID)
		}

		res, err := q.ExecContext(ctx,
			"UPDATE records SET id = ? WHERE id = ?", newID, oldID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to rekey record", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to rekey record", err)
		}
		if n == 0 {
			return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", oldID)
		}
		return nil
	})
}

// Close is a no-op; the shared device database is closed by its owner.
func (s *Store) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec     models.Record
		synced  int
		payload []byte
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &rec.Status, &synced,
		&rec.UpdatedAt, &payload)
	if err != nil {
		return nil, err
	}
	rec.Synced = synced != 0
	if payload != nil {
		rec.Payload = payload
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.Store = (*Store)(nil)
