package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/kisscloud/nest/internal/status"
)

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData wraps a successful result in the response envelope.
func writeData(w http.ResponseWriter, code int, payload any) {
	writeJSON(w, code, map[string]any{"data": payload})
}

// writeError sends a coded failure.
func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, map[string]string{"code": errCode, "message": msg})
}

// writeServiceError maps an orchestrator error onto the wire. Unclassified
// errors become opaque 500s so internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := status.KindOf(err)
	code := status.CodeOf(err)
	switch kind {
	case status.ValidationFailed, status.LocalWriteFailed:
		writeError(w, http.StatusBadRequest, string(code), err.Error())
	case status.NotFound:
		writeError(w, http.StatusNotFound, string(code), err.Error())
	case status.PreconditionBlocked:
		writeError(w, http.StatusConflict, string(code), err.Error())
	case status.RemoteCallFailed:
		writeError(w, http.StatusBadGateway, string(code), err.Error())
	case status.OrphanedRemoteResource:
		writeError(w, http.StatusInternalServerError, string(code), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}
