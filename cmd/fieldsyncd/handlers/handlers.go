// Package handlers provides the REST API handlers of the device daemon. The
// API is served on localhost for the examiner application; it is not an
// external surface.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps application error codes onto HTTP statuses and emits the
// code alongside the message so the UI can branch on it.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrConflict, apperrors.ErrRekeyConflict, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrRemoteUnavailable, apperrors.ErrSyncAborted:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}
