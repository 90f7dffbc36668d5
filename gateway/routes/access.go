package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"peleon/core/accounts"
	"peleon/crypto"
)

const maxAccessKeyBody = 4 << 10

// AccessKeysView lists the credentials allowed to sign for an account.
type AccessKeysView struct {
	AccountID string   `json:"accountId"`
	Keys      []string `json:"keys"`
}

type accessKeyRequest struct {
	Credential string `json:"credential"`
}

func (s *server) getAccessKeys(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	keys, err := s.keys.Keys(r.Context(), accountID)
	if err != nil {
		s.accessKeyError(w, err)
		return
	}
	view := AccessKeysView{AccountID: accountID, Keys: make([]string, 0, len(keys))}
	for _, key := range keys {
		view.Keys = append(view.Keys, key.String())
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) putAccessKey(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAccessKeyBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	var req accessKeyRequest
	if !decode(w, body, &req) {
		return
	}
	cred, err := crypto.ParseCredential(req.Credential)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("credential: %w", err))
		return
	}
	if err := s.keys.AddKey(r.Context(), chi.URLParam(r, "accountID"), cred); err != nil {
		s.accessKeyError(w, err)
		return
	}
	s.getAccessKeys(w, r)
}

func (s *server) deleteAccessKey(w http.ResponseWriter, r *http.Request) {
	cred, err := crypto.ParseCredential(chi.URLParam(r, "credential"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("credential: %w", err))
		return
	}
	if err := s.keys.RemoveKey(r.Context(), chi.URLParam(r, "accountID"), cred); err != nil {
		s.accessKeyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) accessKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, accounts.ErrUnknownKey):
		writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("access key operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
