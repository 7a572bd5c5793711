package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aviz85/gemini-video-playground/internal/batches"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/results"
)

// BatchHandler creates, runs and reports on analysis batches.
type BatchHandler struct {
	Batches      BatchStore
	Builder      BatchCreator
	Scheduler    BatchScheduler
	Thumbnails   ThumbnailResolver
	DefaultModel string
}

type createBatchRequest struct {
	VideoIDs  []string `json:"videoIds" validate:"omitempty,dive,uuid"`
	GroupID   string   `json:"groupId" validate:"omitempty,uuid"`
	PromptIDs []string `json:"promptIds" validate:"required,min=1,dive,uuid"`
	ModelName string   `json:"modelName" validate:"max=200"`
	Run       bool     `json:"run"`
}

type createBatchResponse struct {
	Batch  models.AnalysisBatch `json:"batch"`
	Report batches.BuildReport  `json:"report"`
	Queued bool                 `json:"queued"`
}

// Create handles POST /api/v1/batches. Without a model name the default model
// is used. With "run" set the batch is queued straight away.
func (h BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	modelName := strings.TrimSpace(req.ModelName)
	if modelName == "" {
		modelName = h.DefaultModel
	}

	batch, report, err := h.Builder.Create(ctx, session, batches.Request{
		VideoIDs:  req.VideoIDs,
		GroupID:   req.GroupID,
		PromptIDs: req.PromptIDs,
		ModelName: modelName,
	})
	if err != nil {
		if batches.IsValidation(err) {
			respondError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(ctx).Error("create batch", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create batch")
		return
	}

	resp := createBatchResponse{Batch: batch, Report: report}
	if req.Run && report.Created > 0 {
		if err := h.Scheduler.Enqueue(ctx, batch.ID); err != nil {
			logging.FromContext(ctx).Error("queue new batch", "batchId", batch.ID, "error", err)
		} else {
			resp.Queued = true
		}
	}

	respondJSON(ctx, w, http.StatusCreated, resp)
}

// List handles GET /api/v1/batches.
func (h BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	list, err := h.Batches.ListBatches(ctx, session.UserID)
	if err != nil {
		logging.FromContext(ctx).Error("list batches", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if list == nil {
		list = []models.AnalysisBatch{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"batches": list})
}

// Get handles GET /api/v1/batches/{batchID}.
func (h BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.owned(w, r)
	if !ok {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, batch)
}

// Run handles POST /api/v1/batches/{batchID}/run. The batch runs in the
// background; poll the batch for progress.
func (h BatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batch, ok := h.owned(w, r)
	if !ok {
		return
	}

	err := h.Scheduler.Enqueue(ctx, batch.ID)
	switch {
	case errors.Is(err, batches.ErrAlreadyQueued):
		respondError(ctx, w, http.StatusConflict, "batch is already queued")
	case errors.Is(err, batches.ErrQueueClosed):
		respondError(ctx, w, http.StatusServiceUnavailable, "server is shutting down")
	case err != nil:
		logging.FromContext(ctx).Error("queue batch", "batchId", batch.ID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to queue batch")
	default:
		respondJSON(ctx, w, http.StatusAccepted, map[string]any{"batchId": batch.ID, "status": "queued"})
	}
}

// Results handles GET /api/v1/batches/{batchID}/results. The "status" query
// parameter filters tasks (comma separated, default completed) and "depth"
// limits how deep results are flattened.
func (h BatchHandler) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batch, details, ok := h.details(w, r)
	if !ok {
		return
	}

	depth := results.DefaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 10 {
			respondError(ctx, w, http.StatusBadRequest, "depth must be between 1 and 10")
			return
		}
		depth = parsed
	}

	var statuses []string
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}

	filtered := results.FilterStatuses(details, statuses)
	views := make([]results.View, 0, len(filtered))
	for _, detail := range filtered {
		views = append(views, results.BuildView(detail, h.thumbnailURL, depth))
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"batch": batch, "results": views})
}

// Stats handles GET /api/v1/batches/{batchID}/stats.
func (h BatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	batch, details, ok := h.details(w, r)
	if !ok {
		return
	}

	tasks := make([]models.AnalysisTask, 0, len(details))
	for _, detail := range details {
		tasks = append(tasks, detail.Task)
	}

	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"batch": batch, "stats": results.ComputeStats(tasks)})
}

// Correlation handles GET /api/v1/batches/{batchID}/correlation?key=...
func (h BatchHandler) Correlation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondError(ctx, w, http.StatusBadRequest, "key is required")
		return
	}

	_, details, ok := h.details(w, r)
	if !ok {
		return
	}

	corr, err := results.Correlate(details, key)
	if errors.Is(err, results.ErrInsufficientData) {
		respondError(ctx, w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logging.FromContext(ctx).Error("correlate results", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to correlate results")
		return
	}

	respondJSON(ctx, w, http.StatusOK, corr)
}

func (h BatchHandler) owned(w http.ResponseWriter, r *http.Request) (models.AnalysisBatch, bool) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return models.AnalysisBatch{}, false
	}

	batch, err := h.Batches.FindBatch(ctx, mux.Vars(r)["batchID"])
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && batch.OwnerID != session.UserID) {
		respondError(ctx, w, http.StatusNotFound, "batch not found")
		return models.AnalysisBatch{}, false
	}
	if err != nil {
		logging.FromContext(ctx).Error("load batch", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load batch")
		return models.AnalysisBatch{}, false
	}
	return batch, true
}

func (h BatchHandler) details(w http.ResponseWriter, r *http.Request) (models.AnalysisBatch, []models.TaskDetail, bool) {
	batch, ok := h.owned(w, r)
	if !ok {
		return models.AnalysisBatch{}, nil, false
	}

	details, err := h.Batches.ListTaskDetails(r.Context(), batch.ID)
	if err != nil {
		logging.FromContext(r.Context()).Error("list task details", "batchId", batch.ID, "error", err)
		respondError(r.Context(), w, http.StatusInternalServerError, "failed to load results")
		return models.AnalysisBatch{}, nil, false
	}
	return batch, details, true
}

func (h BatchHandler) thumbnailURL(key string) string {
	if h.Thumbnails == nil {
		return ""
	}
	return h.Thumbnails.PublicURL(key)
}
