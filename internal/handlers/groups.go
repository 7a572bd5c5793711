package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/videos"
)

const (
	maxCSVBytes = 8 << 20
	// multipartOverhead covers part headers and boundaries around an upload.
	multipartOverhead = 1 << 20
)

// GroupHandler serves video groups and the videos inside them.
type GroupHandler struct {
	Groups         GroupStore
	Videos         VideoStore
	Ingestor       VideoIngestor
	Thumbnails     ThumbnailResolver
	MaxUploadBytes int64
	NowFunc        func() time.Time
}

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	IsRed       bool   `json:"isRed"`
}

type ingestURLRequest struct {
	URL      string         `json:"url" validate:"required,url"`
	Title    string         `json:"title" validate:"max=500"`
	Metadata map[string]any `json:"metadata"`
}

type videoResponse struct {
	models.Video
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Create handles POST /api/v1/groups.
func (h GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(ctx, w, http.StatusBadRequest, "name is required")
		return
	}

	group := models.VideoGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		IsRed:       req.IsRed,
		OwnerID:     session.UserID,
		CreatedAt:   h.now(),
	}
	if err := h.Groups.Create(ctx, group); err != nil {
		logging.FromContext(ctx).Error("create group", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create group")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, group)
}

// List handles GET /api/v1/groups.
func (h GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	groups, err := h.Groups.ListByOwner(ctx, session.UserID)
	if err != nil {
		logging.FromContext(ctx).Error("list groups", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []models.VideoGroup{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"groups": groups})
}

// Get handles GET /api/v1/groups/{groupID}.
func (h GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, group)
}

// Delete handles DELETE /api/v1/groups/{groupID}. The group's videos go with it.
func (h GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	err := h.Groups.Delete(ctx, session.UserID, mux.Vars(r)["groupID"])
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "group not found")
	case err != nil:
		logging.FromContext(ctx).Error("delete group", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to delete group")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListVideos handles GET /api/v1/groups/{groupID}/videos.
func (h GroupHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	list, err := h.Videos.ListByGroup(ctx, group.ID)
	if err != nil {
		logging.FromContext(ctx).Error("list group videos", "groupId", group.ID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	out := make([]videoResponse, 0, len(list))
	for _, video := range list {
		out = append(out, h.present(video))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"group": group, "videos": out})
}

// Video handles GET /api/v1/videos/{videoID}.
func (h GroupHandler) Video(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	video, err := h.Videos.FindByID(ctx, mux.Vars(r)["videoID"])
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && video.OwnerID != session.UserID) {
		respondError(ctx, w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		logging.FromContext(ctx).Error("load video", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load video")
		return
	}

	respondJSON(ctx, w, http.StatusOK, h.present(video))
}

// Upload handles POST /api/v1/groups/{groupID}/videos/upload with a
// multipart "file" part.
func (h GroupHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		formFileFailed(w, r, err)
		return
	}
	defer file.Close()

	video, err := h.Ingestor.Ingest(ctx, session, mux.Vars(r)["groupID"], videos.UploadSource{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Reader:   file,
	})
	if err != nil {
		h.ingestFailed(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, h.present(video))
}

// IngestURL handles POST /api/v1/groups/{groupID}/videos/url.
func (h GroupHandler) IngestURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req ingestURLRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	metadata := map[string]any{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		metadata["title"] = title
	}

	video, err := h.Ingestor.Ingest(ctx, session, mux.Vars(r)["groupID"], videos.URLSource{URL: strings.TrimSpace(req.URL), Metadata: metadata})
	if err != nil {
		h.ingestFailed(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, h.present(video))
}

// ImportCSV handles POST /api/v1/groups/{groupID}/videos/import with a
// multipart "file" part holding the CSV. Row failures are reported in the
// body; the request itself only fails when the file cannot be used at all.
func (h GroupHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCSVBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		formFileFailed(w, r, err)
		return
	}
	defer file.Close()

	report, err := h.Ingestor.ImportCSV(ctx, session, mux.Vars(r)["groupID"], file)
	if err != nil {
		h.ingestFailed(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, report)
}

// formFileFailed answers a request whose multipart "file" part could not be
// read. Bodies cut off by MaxBytesReader are reported as too large.
func formFileFailed(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		respondError(r.Context(), w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return
	}
	respondError(r.Context(), w, http.StatusBadRequest, "multipart field \"file\" is required")
}

func (h GroupHandler) ingestFailed(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var apiErr *gemini.APIError
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "group not found")
	case errors.Is(err, videos.ErrTooLarge):
		respondError(ctx, w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, videos.ErrInvalidURL), errors.Is(err, videos.ErrNotVideo), errors.Is(err, videos.ErrMissingURLColumn):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr), errors.Is(err, gemini.ErrFileFailed), errors.Is(err, gemini.ErrUploadFailed):
		logging.FromContext(ctx).Error("model api rejected video", "error", err)
		respondError(ctx, w, http.StatusBadGateway, err.Error())
	default:
		logging.FromContext(ctx).Error("ingest video", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to ingest video")
	}
}

func (h GroupHandler) ownedGroup(w http.ResponseWriter, r *http.Request) (models.VideoGroup, bool) {
	ctx := r.Context()
	session, ok := sessionFrom(w, r)
	if !ok {
		return models.VideoGroup{}, false
	}

	group, err := h.Groups.FindByID(ctx, mux.Vars(r)["groupID"])
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && group.OwnerID != session.UserID) {
		respondError(ctx, w, http.StatusNotFound, "group not found")
		return models.VideoGroup{}, false
	}
	if err != nil {
		logging.FromContext(ctx).Error("load group", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load group")
		return models.VideoGroup{}, false
	}
	return group, true
}

func (h GroupHandler) present(video models.Video) videoResponse {
	resp := videoResponse{Video: video, Title: video.Title()}
	if !video.IsRed && video.ThumbnailRef != "" && h.Thumbnails != nil {
		resp.ThumbnailURL = h.Thumbnails.PublicURL(video.ThumbnailRef)
	}
	return resp
}

func (h GroupHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
