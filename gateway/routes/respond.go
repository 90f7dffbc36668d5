package routes

import (
	"encoding/json"
	"net/http"

	"peleon/native/wallet"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// fail maps contract failures onto HTTP statuses by kind. Internal errors are
// logged and not echoed.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := wallet.KindOf(err)
	msg := err.Error()
	if kind == wallet.KindInternal {
		s.logger.Error("contract call failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, statusForKind(kind), errorResponse{Error: msg, Kind: kind})
}

func statusForKind(kind string) int {
	switch kind {
	case wallet.KindValidation:
		return http.StatusBadRequest
	case wallet.KindUnauthorized:
		return http.StatusForbidden
	case wallet.KindDuplicate, wallet.KindAlreadyInitialized:
		return http.StatusConflict
	case wallet.KindNotFound:
		return http.StatusNotFound
	case wallet.KindUninitialized:
		return http.StatusPreconditionFailed
	case wallet.KindPaused:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
