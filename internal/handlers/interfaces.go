package handlers

import (
	"context"
	"io"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/batches"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/search"
	"github.com/aviz85/gemini-video-playground/internal/videos"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// SessionManager issues, rotates and revokes sessions.
type SessionManager interface {
	Issue(ctx context.Context, user models.User) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (auth.Session, error)
}

// GroupStore persists video groups.
type GroupStore interface {
	Create(ctx context.Context, group models.VideoGroup) error
	FindByID(ctx context.Context, id string) (models.VideoGroup, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.VideoGroup, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// VideoStore reads stored videos.
type VideoStore interface {
	FindByID(ctx context.Context, id string) (models.Video, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Video, error)
}

// VideoIngestor stores uploaded, linked and CSV-listed videos.
type VideoIngestor interface {
	Ingest(ctx context.Context, session auth.Session, groupID string, src videos.Source) (models.Video, error)
	ImportCSV(ctx context.Context, session auth.Session, groupID string, r io.Reader) (videos.ImportReport, error)
}

// PromptStore persists prompts.
type PromptStore interface {
	Create(ctx context.Context, prompt models.Prompt) error
	FindByID(ctx context.Context, id string) (models.Prompt, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Prompt, error)
	Update(ctx context.Context, prompt models.Prompt) error
	Delete(ctx context.Context, ownerID, id string) error
}

// BatchStore reads batches and their task details.
type BatchStore interface {
	FindBatch(ctx context.Context, id string) (models.AnalysisBatch, error)
	ListBatches(ctx context.Context, ownerID string) ([]models.AnalysisBatch, error)
	ListTaskDetails(ctx context.Context, batchID string) ([]models.TaskDetail, error)
}

// BatchCreator fans a request out into a batch of tasks.
type BatchCreator interface {
	Create(ctx context.Context, session auth.Session, req batches.Request) (models.AnalysisBatch, batches.BuildReport, error)
}

// BatchScheduler queues batch runs.
type BatchScheduler interface {
	Enqueue(ctx context.Context, batchID string) error
}

// Searcher answers semantic queries over analysis summaries.
type Searcher interface {
	Search(ctx context.Context, session auth.Session, query string, opts search.Options) ([]search.Hit, error)
}

// ThumbnailResolver turns stored thumbnail keys into URLs.
type ThumbnailResolver interface {
	PublicURL(key string) string
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}
