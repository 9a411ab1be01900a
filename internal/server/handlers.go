package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/wordlens/internal/completion"
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/internal/lookup"
	"github.com/MrWong99/wordlens/internal/observe"
	"github.com/MrWong99/wordlens/internal/render"
)

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	settings, n := s.current()
	surrounding := deriveContext(req.Word, req.Context, req.Passage, req.Offset, n)

	res, raw, err := lookup.Lookup(r.Context(), s.transport, req.Word, surrounding, settings,
		lookup.WithMetrics(s.metrics))
	if err != nil {
		observe.Logger(r.Context()).Warn("server: lookup failed", "word", req.Word, "err", err)
		writeError(w, lookupStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{
		Result: res,
		HTML:   render.Result(res, settings.Fields),
		Raw:    raw,
	})
}

// lookupStatus maps a lookup failure to an HTTP status.
func lookupStatus(err error) int {
	var (
		transportErr *completion.TransportError
		repairErr    *lookup.RepairError
	)
	switch {
	case errors.Is(err, lookup.ErrEmptyWord):
		return http.StatusBadRequest
	case errors.As(err, &repairErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, lookup.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("flashcards are not configured"))
		return
	}
	var req cardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	card := flashcard.Compose(req.Word, req.MeaningHTML, req.Context)
	card.Deck = strings.TrimSpace(req.Deck)
	card.Tags = req.Tags

	id, err := s.store.Add(r.Context(), card)
	switch {
	case errors.Is(err, flashcard.ErrEmptyWord):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		observe.Logger(r.Context()).Error("server: save card", "word", card.Word, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.RecordCardSaved(r.Context(), s.driver)
	writeJSON(w, http.StatusCreated, cardResponse{ID: id})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("flashcards are not configured"))
		return
	}
	cards, err := s.store.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("server: list cards", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cards == nil {
		cards = []flashcard.Card{}
	}
	writeJSON(w, http.StatusOK, cardsResponse{Cards: cards})
}

// decodeBody reads a size-limited JSON body into v. On failure it writes a
// 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed JSON body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
