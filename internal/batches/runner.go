package batches

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/results"
)

// Generator invokes the model on an uploaded file.
type Generator interface {
	GenerateContent(ctx context.Context, model string, file gemini.FileRef, prompt string) (string, error)
}

// TaskStore reads pending work and records task outcomes and batch progress.
type TaskStore interface {
	FindBatch(ctx context.Context, id string) (models.AnalysisBatch, error)
	ListPendingTasks(ctx context.Context, batchID string) ([]models.AnalysisTask, error)
	CompleteTask(ctx context.Context, taskID string, result models.TaskResult, summary string, at time.Time) error
	FailTask(ctx context.Context, taskID, reason string, at time.Time) error
	RecordProgress(ctx context.Context, batchID, status string, at time.Time) (int, error)
}

// RunReport summarises one pass over a batch's pending tasks.
type RunReport struct {
	BatchID   string `json:"batchId"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Progress  int    `json:"progress"`
	Status    string `json:"status"`
}

// Runner executes the pending tasks of a batch one at a time.
type Runner struct {
	store     TaskStore
	videos    VideoLookup
	prompts   PromptLookup
	generator Generator
	now       func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(store TaskStore, videos VideoLookup, prompts PromptLookup, generator Generator) *Runner {
	return &Runner{
		store:     store,
		videos:    videos,
		prompts:   prompts,
		generator: generator,
		now:       time.Now,
	}
}

// Run processes the batch's pending tasks in insertion order. Each task is
// marked completed with the model output or failed with the error text;
// failures never stop the pass. After every task the batch progress is
// incremented and the status set to processing, or to completed once every
// task of this pass has been handled. Tasks that already left pending before
// their outcome was stored are reported as skipped and still count toward
// progress. A batch without pending tasks is left untouched.
func (r *Runner) Run(ctx context.Context, batchID string) (report RunReport, err error) {
	batch, err := r.store.FindBatch(ctx, batchID)
	if err != nil {
		return RunReport{}, fmt.Errorf("load batch: %w", err)
	}

	ctx, span := logging.StartSpan(ctx, "batches.run", "batch_id", batch.ID, "model", batch.ModelName)
	defer func() {
		span.Fail(err)
		span.End()
	}()
	logger := logging.FromContext(ctx)

	pending, err := r.store.ListPendingTasks(ctx, batch.ID)
	if err != nil {
		return RunReport{}, fmt.Errorf("list pending tasks: %w", err)
	}

	report = RunReport{BatchID: batch.ID, Total: len(pending), Progress: batch.Progress, Status: batch.Status}
	if len(pending) == 0 {
		logger.Info("batch has no pending tasks")
		return report, nil
	}

	for i, task := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		taskLogger := logger.With("task_id", task.ID, "video_id", task.VideoID, "prompt_id", task.PromptID)
		outcome, err := r.runTask(ctx, batch, task)
		switch {
		case err != nil:
			return report, err
		case outcome == models.TaskStatusCompleted:
			report.Completed++
			taskLogger.Info("task completed")
		case outcome == models.TaskStatusFailed:
			report.Failed++
		default:
			report.Skipped++
			taskLogger.Warn("task already left pending")
		}

		status := models.BatchStatusProcessing
		if i+1 == len(pending) {
			status = models.BatchStatusCompleted
		}
		progress, err := r.store.RecordProgress(ctx, batch.ID, status, r.now())
		if err != nil {
			return report, fmt.Errorf("record progress: %w", err)
		}
		report.Progress = progress
		report.Status = status
	}

	logger.Info("batch run finished", "completed", report.Completed, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// runTask invokes the model for one task and stores the outcome. It returns
// the task's new status, or an empty status when the task had already left
// pending. Only storage failures are returned as errors.
func (r *Runner) runTask(ctx context.Context, batch models.AnalysisBatch, task models.AnalysisTask) (string, error) {
	text, invokeErr := r.invoke(ctx, batch, task)
	now := r.now()

	if invokeErr != nil {
		logging.FromContext(ctx).Warn("task failed", "task_id", task.ID, "error", invokeErr)
		err := r.store.FailTask(ctx, task.ID, invokeErr.Error(), now)
		if errors.Is(err, repositories.ErrConflict) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("mark task %s failed: %w", task.ID, err)
		}
		return models.TaskStatusFailed, nil
	}

	err := r.store.CompleteTask(ctx, task.ID, models.TaskResult{Analysis: text}, results.Summary(text), now)
	if errors.Is(err, repositories.ErrConflict) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mark task %s completed: %w", task.ID, err)
	}
	return models.TaskStatusCompleted, nil
}

func (r *Runner) invoke(ctx context.Context, batch models.AnalysisBatch, task models.AnalysisTask) (string, error) {
	video, err := r.videos.FindByID(ctx, task.VideoID)
	if err != nil {
		return "", fmt.Errorf("load video %s: %w", task.VideoID, err)
	}
	prompt, err := r.prompts.FindByID(ctx, task.PromptID)
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", task.PromptID, err)
	}
	if video.ExternalFileURI == "" {
		return "", fmt.Errorf("video %s has no uploaded file", video.ID)
	}

	return r.generator.GenerateContent(ctx, batch.ModelName, gemini.FileRef{URI: video.ExternalFileURI, MimeType: video.MimeType}, prompt.Text)
}
