package bolt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fieldsync_bolt_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "records.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestBoltPutGetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := &models.Record{
		ID:        "local-1",
		OwnerID:   "examiner-1",
		Type:      "assessment",
		Status:    "draft",
		UpdatedAt: 10,
		Payload:   json.RawMessage(`{"result":"pass"}`),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "local-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OwnerID != "examiner-1" || string(got.Payload) != `{"result":"pass"}` {
		t.Errorf("Got %+v", got)
	}

	if err := s.Delete(ctx, "local-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "local-1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after delete, got %v", err)
	}
}

func TestBoltDurabilityAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, &models.Record{ID: "r1", Status: "final", UpdatedAt: 9}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != "final" || got.UpdatedAt != 9 {
		t.Errorf("Record changed across restart: %+v", got)
	}
}

func TestBoltQueryOrderAndFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, &models.Record{ID: "a", OwnerID: "ex1", Status: "draft", UpdatedAt: 1})
	s.Put(ctx, &models.Record{ID: "b", OwnerID: "ex1", Status: "final", UpdatedAt: 3})
	s.Put(ctx, &models.Record{ID: "c", OwnerID: "ex2", Status: "draft", UpdatedAt: 2})

	recs, err := s.Query(ctx, store.Filter{OwnerID: "ex1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "b" || recs[1].ID != "a" {
		t.Errorf("Query order wrong: %+v", recs)
	}

	recs, _ = s.Query(ctx, store.Filter{Status: "draft", Limit: 1})
	if len(recs) != 1 || recs[0].ID != "c" {
		t.Errorf("Filtered query wrong: %+v", recs)
	}
}

func TestBoltRekey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, &models.Record{ID: "local-1", Status: "draft", UpdatedAt: 1})
	s.Put(ctx, &models.Record{ID: "srv-taken", UpdatedAt: 1})

	if err := s.Rekey(ctx, "local-1", "srv-taken"); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected CONFLICT, got %v", err)
	}
	if err := s.Rekey(ctx, "missing", "srv-new"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}

	if err := s.Rekey(ctx, "local-1", "srv-9"); err != nil {
		t.Fatalf("Rekey failed: %v", err)
	}
	got, err := s.Get(ctx, "srv-9")
	if err != nil {
		t.Fatalf("New id missing: %v", err)
	}
	if got.ID != "srv-9" || got.Status != "draft" {
		t.Errorf("Got %+v", got)
	}
	if _, err := s.Get(ctx, "local-1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Error("Old id still resolves")
	}
}
