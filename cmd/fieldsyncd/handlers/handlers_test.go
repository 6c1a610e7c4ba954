package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/itadriver/fieldsync/internal/idgen"
	"github.com/itadriver/fieldsync/internal/logging"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
	syncengine "github.com/itadriver/fieldsync/internal/sync"
	"github.com/itadriver/fieldsync/internal/sync/queue"
)

// stubRemote acks everything; handler tests exercise the HTTP surface, not
// the drain semantics.
type stubRemote struct {
	mu     gosync.Mutex
	nextID int
}

func (s *stubRemote) Create(ctx context.Context, payload json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("srv-%d", s.nextID), nil
}

func (s *stubRemote) Update(ctx context.Context, id string, payload json.RawMessage) error {
	return nil
}

func (s *stubRemote) Delete(ctx context.Context, id string) error { return nil }

func (s *stubRemote) Ping(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T) (*mux.Router, *syncengine.Engine) {
	t.Helper()

	engine := syncengine.New(syncengine.Options{
		Store:  store.NewMemory(),
		Queue:  queue.NewMemory(queue.DefaultConfig(), nil),
		Remote: &stubRemote{},
		Logger: logging.New(io.Discard, logging.LevelError),
	})

	router := mux.NewRouter()
	NewRecordsHandler(engine).Register(router)
	NewSyncHandler(engine).Register(router)
	router.HandleFunc("/api/health", Health(func() bool { return true })).Methods(http.MethodGet)
	return router, engine
}

func doRequest(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetRecord(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/api/records", models.Record{
		OwnerID: "examiner-3",
		Type:    "assessment",
		Status:  "draft",
		Payload: json.RawMessage(`{"result":"pass"}`),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", rec.Code, rec.Body)
	}

	var created models.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Bad response: %v", err)
	}
	if !idgen.IsLocal(created.ID) {
		t.Errorf("New record should carry a local id, got %s", created.ID)
	}
	if created.Synced {
		t.Error("New record marked synced")
	}

	rec = doRequest(router, http.MethodGet, "/api/records/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Get returned %d", rec.Code)
	}
}

func TestGetMissingRecordReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/records/srv-nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND code, got %q", body["code"])
	}
}

func TestUpdateUnknownRecordReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPut, "/api/records/srv-nope", models.Record{
		Payload: json.RawMessage(`{}`),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", rec.Code, rec.Body)
	}
}

func TestListFiltersByOwner(t *testing.T) {
	router, _ := newTestRouter(t)

	doRequest(router, http.MethodPost, "/api/records", models.Record{OwnerID: "ex1", Type: "assessment"})
	doRequest(router, http.MethodPost, "/api/records", models.Record{OwnerID: "ex2", Type: "assessment"})

	rec := doRequest(router, http.MethodGet, "/api/records?owner_id=ex1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List returned %d", rec.Code)
	}

	var body struct {
		Records []*models.Record `json:"records"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Bad response: %v", err)
	}
	if body.Count != 1 || body.Records[0].OwnerID != "ex1" {
		t.Errorf("Filtered list wrong: %+v", body)
	}

	rec = doRequest(router, http.MethodGet, "/api/records?limit=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestDeleteRecord(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/api/records", models.Record{Type: "assessment"})
	var created models.Record
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(router, http.MethodDelete, "/api/records/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Delete returned %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/api/records/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Record survived delete: %d", rec.Code)
	}
}

func TestSyncStatusAndQueue(t *testing.T) {
	router, _ := newTestRouter(t)

	doRequest(router, http.MethodPost, "/api/records", models.Record{Type: "assessment"})

	rec := doRequest(router, http.MethodGet, "/api/sync/queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Queue returned %d", rec.Code)
	}
	var queueBody struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &queueBody)
	if queueBody.Count != 1 {
		t.Errorf("Expected 1 queued item, got %d", queueBody.Count)
	}

	rec = doRequest(router, http.MethodGet, "/api/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status returned %d", rec.Code)
	}
	var statusBody struct {
		Status syncengine.Status `json:"status"`
	}
	json.Unmarshal(rec.Body.Bytes(), &statusBody)
	if statusBody.Status.Pending != 1 {
		t.Errorf("Expected 1 pending in status, got %+v", statusBody.Status)
	}
}

func TestSyncNowDrainsQueue(t *testing.T) {
	router, _ := newTestRouter(t)

	doRequest(router, http.MethodPost, "/api/records", models.Record{Type: "assessment"})

	rec := doRequest(router, http.MethodPost, "/api/sync/now", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("SyncNow returned %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(router, http.MethodGet, "/api/sync/queue", nil)
	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 0 {
		t.Errorf("Queue not drained: %d", body.Count)
	}

	rec = doRequest(router, http.MethodGet, "/api/records", nil)
	var list struct {
		Records []*models.Record `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Records) != 1 || idgen.IsLocal(list.Records[0].ID) {
		t.Errorf("Record not relocated after sync: %+v", list.Records)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/sync/deadletter", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DeadLetters returned %d", rec.Code)
	}

	rec = doRequest(router, http.MethodPost, "/api/sync/deadletter/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("RetryDead returned %d", rec.Code)
	}
	var body struct {
		Requeued int `json:"requeued"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Requeued != 0 {
		t.Errorf("Expected 0 requeued on empty queue, got %d", body.Requeued)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Health returned %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["online"] != true {
		t.Errorf("Health body: %v", body)
	}
}
