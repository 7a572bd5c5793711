package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
)

// PromptHandler serves the prompt library.
type PromptHandler struct {
	Prompts PromptStore
	NowFunc func() time.Time
}

type promptRequest struct {
	Text        string `json:"text" validate:"required,max=20000"`
	Description string `json:"description" validate:"max=2000"`
}

// Create handles POST /api/v1/prompts.
func (h PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}

	prompt := models.Prompt{
		ID:          uuid.NewString(),
		Text:        req.Text,
		Description: req.Description,
		OwnerID:     session.UserID,
		CreatedAt:   h.now(),
	}
	if err := h.Prompts.Create(ctx, prompt); err != nil {
		logging.FromContext(ctx).Error("create prompt", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create prompt")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, prompt)
}

// List handles GET /api/v1/prompts.
func (h PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	prompts, err := h.Prompts.ListByOwner(ctx, session.UserID)
	if err != nil {
		logging.FromContext(ctx).Error("list prompts", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	if prompts == nil {
		prompts = []models.Prompt{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"prompts": prompts})
}

// Get handles GET /api/v1/prompts/{promptID}.
func (h PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	prompt, ok := h.owned(w, r)
	if !ok {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, prompt)
}

// Update handles PUT /api/v1/prompts/{promptID}.
func (h PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prompt, ok := h.owned(w, r)
	if !ok {
		return
	}

	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}
	prompt.Text = req.Text
	prompt.Description = req.Description

	if err := h.Prompts.Update(ctx, prompt); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "prompt not found")
			return
		}
		logging.FromContext(ctx).Error("update prompt", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update prompt")
		return
	}

	respondJSON(ctx, w, http.StatusOK, prompt)
}

// Delete handles DELETE /api/v1/prompts/{promptID}. Tasks that used the
// prompt are deleted with it.
func (h PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	err := h.Prompts.Delete(ctx, session.UserID, mux.Vars(r)["promptID"])
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "prompt not found")
	case err != nil:
		logging.FromContext(ctx).Error("delete prompt", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to delete prompt")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodePrompt(w http.ResponseWriter, r *http.Request) (promptRequest, bool) {
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return promptRequest{}, false
	}
	req.Text = strings.TrimSpace(req.Text)
	req.Description = strings.TrimSpace(req.Description)
	if req.Text == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "text is required")
		return promptRequest{}, false
	}
	return req, true
}

func (h PromptHandler) owned(w http.ResponseWriter, r *http.Request) (models.Prompt, bool) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return models.Prompt{}, false
	}

	prompt, err := h.Prompts.FindByID(ctx, mux.Vars(r)["promptID"])
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && prompt.OwnerID != session.UserID) {
		respondError(ctx, w, http.StatusNotFound, "prompt not found")
		return models.Prompt{}, false
	}
	if err != nil {
		logging.FromContext(ctx).Error("load prompt", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load prompt")
		return models.Prompt{}, false
	}
	return prompt, true
}

func (h PromptHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
