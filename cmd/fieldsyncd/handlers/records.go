package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
	syncengine "github.com/itadriver/fieldsync/internal/sync"
)

// RecordsHandler exposes the engine's record surface. Every mutation going
// through here is captured for synchronization automatically.
type RecordsHandler struct {
	engine *syncengine.Engine
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(engine *syncengine.Engine) *RecordsHandler {
	return &RecordsHandler{engine: engine}
}

// Register mounts the record routes.
func (h *RecordsHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/records", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/records", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/records/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/records/{id}", h.Update).Methods(http.MethodPut)
	r.HandleFunc("/api/records/{id}", h.Delete).Methods(http.MethodDelete)
}

// List handles GET /api/records with owner_id/status/type/limit/offset query
// parameters.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		OwnerID: q.Get("owner_id"),
		Status:  q.Get("status"),
		Type:    q.Get("type"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Newf(apperrors.ErrInvalid, "invalid limit %q", v))
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Newf(apperrors.ErrInvalid, "invalid offset %q", v))
			return
		}
		f.Offset = n
	}

	recs, err := h.engine.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"count":   len(recs),
	})
}

// Create handles POST /api/records. The record gets a local id and a queued
// create; the server-confirmed id arrives later via a relocation event.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	rec.ID = ""

	created, err := h.engine.Write(r.Context(), &rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/records/{id}.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Read(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Update handles PUT /api/records/{id}. Whole-record overwrite.
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	rec.ID = mux.Vars(r)["id"]

	updated, err := h.engine.Write(r.Context(), &rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/records/{id}.
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
