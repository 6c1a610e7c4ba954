package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	syncengine "github.com/itadriver/fieldsync/internal/sync"
	"github.com/itadriver/fieldsync/internal/sync/queue"
)

// SyncHandler exposes the synchronization surface: status, manual trigger,
// queue inspection and dead-letter management.
type SyncHandler struct {
	engine *syncengine.Engine
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine *syncengine.Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// Register mounts the sync routes.
func (h *SyncHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/sync/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/now", h.SyncNow).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/queue", h.Queue).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/deadletter", h.DeadLetters).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/deadletter/retry", h.RetryDead).Methods(http.MethodPost)
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": h.engine.Status(r.Context()),
		"stats":  h.engine.Stats(),
	})
}

// SyncNow handles POST /api/sync/now: a synchronous drain attempt. An
// already-running drain answers 409 with SYNC_IN_PROGRESS; the running pass
// picks up a follow-up automatically.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ForceSync(r.Context()); err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": "already_running",
				"code":   string(apperrors.ErrSyncInProgress),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "completed",
	})
}

// Queue handles GET /api/sync/queue.
func (h *SyncHandler) Queue(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.PendingItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*queue.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// DeadLetters handles GET /api/sync/deadletter.
func (h *SyncHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.DeadLetters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*queue.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// RetryDead handles POST /api/sync/deadletter/retry.
func (h *SyncHandler) RetryDead(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RetryDead(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": n,
	})
}

// Health handles GET /api/health.
func Health(online func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "fieldsyncd",
			"online":  online(),
		})
	}
}
