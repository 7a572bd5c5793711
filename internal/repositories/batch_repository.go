package repositories

import (
	"context"
	"time"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// BatchRepository persists analysis batches and their tasks.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch models.AnalysisBatch) error
	FindBatch(ctx context.Context, id string) (models.AnalysisBatch, error)
	ListBatches(ctx context.Context, ownerID string) ([]models.AnalysisBatch, error)
	RecordProgress(ctx context.Context, batchID, status string, at time.Time) (int, error)

	CreateTask(ctx context.Context, task models.AnalysisTask) error
	ListPendingTasks(ctx context.Context, batchID string) ([]models.AnalysisTask, error)
	ListTaskDetails(ctx context.Context, batchID string) ([]models.TaskDetail, error)
	CompleteTask(ctx context.Context, taskID string, result models.TaskResult, summary string, at time.Time) error
	FailTask(ctx context.Context, taskID, reason string, at time.Time) error
}

// EmbeddingRepository persists summary embeddings and answers nearest
// neighbour queries over them.
type EmbeddingRepository interface {
	ListMissingEmbeddings(ctx context.Context, ownerID string, limit int) ([]models.AnalysisTask, error)
	SaveEmbedding(ctx context.Context, taskID string, embedding []float32) error
	NearestSummaries(ctx context.Context, ownerID string, query []float32, limit int) ([]models.SummaryNeighbor, error)
}
