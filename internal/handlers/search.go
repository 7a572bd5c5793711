package handlers

import (
	"errors"
	"net/http"

	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/search"
)

// SearchHandler runs semantic queries over analysis summaries.
type SearchHandler struct {
	Search Searcher
}

type searchRequest struct {
	Query    string `json:"query" validate:"required,max=2000"`
	InitialK int    `json:"initialK" validate:"omitempty,min=10,max=100"`
	FinalK   int    `json:"finalK" validate:"omitempty,min=1,max=100"`
}

// Query handles POST /api/v1/search.
func (h SearchHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	opts := search.Options{InitialK: req.InitialK, FinalK: req.FinalK}.Normalize()
	hits, err := h.Search.Search(ctx, session, req.Query, opts)
	if errors.Is(err, search.ErrEmptyQuery) {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logging.FromContext(ctx).Error("semantic search", "error", err)
		respondError(ctx, w, http.StatusBadGateway, "search failed")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"query":    req.Query,
		"initialK": opts.InitialK,
		"finalK":   opts.FinalK,
		"hits":     hits,
	})
}
