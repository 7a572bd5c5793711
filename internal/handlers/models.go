package handlers

import (
	"net/http"

	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/logging"
)

// ModelHandler lists the models a batch can run against.
type ModelHandler struct {
	Models       gemini.ModelLister
	DefaultModel string
}

// List handles GET /api/v1/models.
func (h ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.Models.GenerativeModels(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list models", "error", err)
		respondError(ctx, w, http.StatusBadGateway, "unable to list models")
		return
	}
	if list == nil {
		list = []gemini.Model{}
	}

	defaultModel := h.DefaultModel
	if defaultModel == "" {
		defaultModel = gemini.DefaultModel
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"models": list, "default": defaultModel})
}
