// Package bolt implements the Durable Local Store on a bbolt file, for
// deployments without sqlite. Records are stored as JSON under their id;
// secondary lookups filter by scan, which is fine at field-device volumes.
package bolt

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
)

var bucketRecords = []byte("records")

// Store persists records in a bbolt bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the bbolt file and its records bucket.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open bolt store", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create records bucket", err)
	}

	return &Store{db: db}, nil
}

// Put upserts a record by id.
func (s *Store) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode record", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to put record", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Record, error) {
	var rec *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
		}
		rec = &models.Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get record", err)
	}
	return rec, nil
}

// Query scans the bucket and returns matching records, newest first.
func (s *Store) Query(ctx context.Context, f store.Filter) ([]*models.Record, error) {
	var out []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if f.Match(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to query records", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete record", err)
	}
	return nil
}

// Rekey atomically moves a record from oldID to newID inside one bolt
// transaction.
func (s *Store) Rekey(ctx context.Context, oldID, newID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		if b.Get([]byte(newID)) != nil {
			return apperrors.Newf(apperrors.ErrConflict, "record %s already exists", newID)
		}
		data := b.Get([]byte(oldID))
		if data == nil {
			return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", oldID)
		}

		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to decode record", err)
		}
		rec.ID = newID
		updated, err := json.Marshal(&rec)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to encode record", err)
		}

		if err := b.Delete([]byte(oldID)); err != nil {
			return err
		}
		return b.Put([]byte(newID), updated)
	})
}

// Close closes the bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
