package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/store"
)

const maxKeyBody = 16 << 10

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.keyFailure(w, r, err)
		return
	}
	out := make([]store.MaskedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Mask())
	}
	writeSuccess(w, out, "")
}

func (s *Server) handleSaveKeys(w http.ResponseWriter, r *http.Request) {
	var in store.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxKeyBody))
	if err := dec.Decode(&in); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in.UserID = userIDFrom(r.Context())

	rec, err := s.store.Save(r.Context(), in)
	if err != nil {
		s.keyFailure(w, r, err)
		return
	}
	s.log.Info().
		Str("user", rec.UserID).
		Str("exchange", string(rec.Exchange)).
		Str("key", core.MaskKey(rec.APIKey)).
		Msg("api keys saved")
	writeSuccess(w, rec.Mask(), fmt.Sprintf("%s API keys saved successfully", rec.Exchange.DisplayName()))
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxKeyBody)).Decode(&req); err != nil || req.Enabled == nil {
		writeFailure(w, http.StatusBadRequest, "enabled is required")
		return
	}
	rec, err := s.store.SetEnabled(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"], *req.Enabled)
	if err != nil {
		s.keyFailure(w, r, err)
		return
	}
	writeSuccess(w, rec.Mask(), "")
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.keyFailure(w, r, err)
		return
	}
	writeSuccess(w, nil, "API key deleted")
}

type debugKeys struct {
	store.Summary
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleDebugKeys(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.keyFailure(w, r, err)
		return
	}
	writeSuccess(w, debugKeys{Summary: sum, Timestamp: s.now().UTC()}, "")
}

// keyFailure maps store errors for the key-management routes, where a
// missing row is a 404 rather than the 400 the exchange routes use.
func (s *Server) keyFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "API key not found")
	case errors.Is(err, core.ErrInvalidCredential), errors.Is(err, core.ErrUnknownExchange):
		writeFailure(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Str("route", r.URL.Path).Msg("key store failed")
		writeFailure(w, http.StatusInternalServerError, "Failed to access API keys")
	}
}
