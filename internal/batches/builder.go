// Package batches fans videos and prompts out into analysis batches and runs
// them against the model API.
package batches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
)

var (
	// ErrNoVideos indicates a batch request selected no videos.
	ErrNoVideos = errors.New("at least one video is required")
	// ErrNoPrompts indicates a batch request selected no prompts.
	ErrNoPrompts = errors.New("at least one prompt is required")
	// ErrNoModel indicates a batch request named no model.
	ErrNoModel = errors.New("model name is required")
	// ErrUnknownVideo indicates a selected video does not exist for the owner.
	ErrUnknownVideo = errors.New("unknown video")
	// ErrUnknownPrompt indicates a selected prompt does not exist for the owner.
	ErrUnknownPrompt = errors.New("unknown prompt")
)

// VideoLookup loads videos.
type VideoLookup interface {
	FindByID(ctx context.Context, id string) (models.Video, error)
}

// GroupVideoLister lists the videos of a group.
type GroupVideoLister interface {
	ListByGroup(ctx context.Context, groupID string) ([]models.Video, error)
}

// PromptLookup loads prompts.
type PromptLookup interface {
	FindByID(ctx context.Context, id string) (models.Prompt, error)
}

// BatchWriter creates batches and their tasks.
type BatchWriter interface {
	CreateBatch(ctx context.Context, batch models.AnalysisBatch) error
	CreateTask(ctx context.Context, task models.AnalysisTask) error
}

// Request selects the videos and prompts of a new batch. When VideoIDs is
// empty every video of GroupID is used.
type Request struct {
	VideoIDs  []string
	GroupID   string
	PromptIDs []string
	ModelName string
}

// TaskFailure records a task that could not be created.
type TaskFailure struct {
	VideoID  string `json:"videoId"`
	PromptID string `json:"promptId"`
	Error    string `json:"error"`
}

// BuildReport summarises task creation for a new batch.
type BuildReport struct {
	Created int           `json:"created"`
	Failed  []TaskFailure `json:"failed,omitempty"`
}

// Builder creates batches.
type Builder struct {
	videos  VideoLookup
	groups  GroupVideoLister
	prompts PromptLookup
	batches BatchWriter
	now     func() time.Time
}

// NewBuilder constructs a Builder.
func NewBuilder(videos VideoLookup, groups GroupVideoLister, prompts PromptLookup, batches BatchWriter) *Builder {
	return &Builder{
		videos:  videos,
		groups:  groups,
		prompts: prompts,
		batches: batches,
		now:     time.Now,
	}
}

// Create validates the request for the session owner, then stores one pending
// batch and one pending task per (video, prompt) pair in video-major order.
// A task that fails to insert is reported and skipped; the batch is still
// returned.
func (b *Builder) Create(ctx context.Context, session auth.Session, req Request) (models.AnalysisBatch, BuildReport, error) {
	model := strings.TrimSpace(req.ModelName)
	if model == "" {
		return models.AnalysisBatch{}, BuildReport{}, ErrNoModel
	}
	if len(req.PromptIDs) == 0 {
		return models.AnalysisBatch{}, BuildReport{}, ErrNoPrompts
	}

	videos, err := b.resolveVideos(ctx, session, req)
	if err != nil {
		return models.AnalysisBatch{}, BuildReport{}, err
	}
	prompts, err := b.resolvePrompts(ctx, session, req.PromptIDs)
	if err != nil {
		return models.AnalysisBatch{}, BuildReport{}, err
	}

	now := b.now().UTC()
	batch := models.AnalysisBatch{
		ID:          uuid.NewString(),
		ModelName:   model,
		Status:      models.BatchStatusPending,
		TotalVideos: len(videos),
		OwnerID:     session.UserID,
		CreatedAt:   now,
	}

	ctx, span := logging.StartSpan(ctx, "batches.create", "batch_id", batch.ID, "videos", len(videos), "prompts", len(prompts))
	defer span.End()

	if err := b.batches.CreateBatch(ctx, batch); err != nil {
		span.Fail(err)
		return models.AnalysisBatch{}, BuildReport{}, fmt.Errorf("create batch: %w", err)
	}

	logger := logging.FromContext(ctx)
	var report BuildReport
	for _, video := range videos {
		for _, prompt := range prompts {
			task := models.AnalysisTask{
				ID:        uuid.NewString(),
				BatchID:   batch.ID,
				VideoID:   video.ID,
				PromptID:  prompt.ID,
				Status:    models.TaskStatusPending,
				CreatedAt: now,
			}
			if err := b.batches.CreateTask(ctx, task); err != nil {
				logger.Error("create analysis task", "video_id", video.ID, "prompt_id", prompt.ID, "error", err)
				report.Failed = append(report.Failed, TaskFailure{VideoID: video.ID, PromptID: prompt.ID, Error: err.Error()})
				continue
			}
			report.Created++
		}
	}

	logger.Info("batch created", "tasks", report.Created, "failed_tasks", len(report.Failed))
	return batch, report, nil
}

func (b *Builder) resolveVideos(ctx context.Context, session auth.Session, req Request) ([]models.Video, error) {
	if len(req.VideoIDs) == 0 {
		if strings.TrimSpace(req.GroupID) == "" {
			return nil, ErrNoVideos
		}
		videos, err := b.groups.ListByGroup(ctx, req.GroupID)
		if err != nil {
			return nil, fmt.Errorf("list group videos: %w", err)
		}
		owned := videos[:0]
		for _, video := range videos {
			if video.OwnerID == session.UserID {
				owned = append(owned, video)
			}
		}
		if len(owned) == 0 {
			return nil, ErrNoVideos
		}
		return owned, nil
	}

	videos := make([]models.Video, 0, len(req.VideoIDs))
	for _, id := range req.VideoIDs {
		video, err := b.videos.FindByID(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && video.OwnerID != session.UserID) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, id)
		}
		if err != nil {
			return nil, fmt.Errorf("load video %s: %w", id, err)
		}
		videos = append(videos, video)
	}
	return videos, nil
}

func (b *Builder) resolvePrompts(ctx context.Context, session auth.Session, ids []string) ([]models.Prompt, error) {
	prompts := make([]models.Prompt, 0, len(ids))
	for _, id := range ids {
		prompt, err := b.prompts.FindByID(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && prompt.OwnerID != session.UserID) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
		}
		if err != nil {
			return nil, fmt.Errorf("load prompt %s: %w", id, err)
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoVideos) || errors.Is(err, ErrNoPrompts) || errors.Is(err, ErrNoModel) ||
		errors.Is(err, ErrUnknownVideo) || errors.Is(err, ErrUnknownPrompt)
}
