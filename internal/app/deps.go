package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/batches"
	"github.com/aviz85/gemini-video-playground/internal/config"
	"github.com/aviz85/gemini-video-playground/internal/db"
	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/handlers"
	"github.com/aviz85/gemini-video-playground/internal/middleware"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/retry"
	"github.com/aviz85/gemini-video-playground/internal/search"
	"github.com/aviz85/gemini-video-playground/internal/storage"
	"github.com/aviz85/gemini-video-playground/internal/videos"
)

// components holds the wired services shared by the server and CLI commands.
type components struct {
	HTTP     handlers.Dependencies
	Users    *repositories.PostgresUserRepository
	Ingestor *videos.Ingestor
	Runner   *batches.Runner
	Queue    *batches.Queue
	Search   *search.Service
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and commands. The returned cleanup stops the batch queue.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (components, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	thumbnails, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return components{}, nil, fmt.Errorf("configure object storage: %w", err)
	}

	users := repositories.NewPostgresUserRepository(pool)
	groups := repositories.NewPostgresGroupRepository(pool)
	videoRepo := repositories.NewPostgresVideoRepository(pool)
	prompts := repositories.NewPostgresPromptRepository(pool)
	batchRepo := repositories.NewPostgresBatchRepository(pool)
	sessions := auth.NewManager(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, repositories.NewPostgresSessionStore(pool))

	model, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.Gemini.APIKey,
		BaseURL:           cfg.Gemini.BaseURL,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
	})
	if err != nil {
		return components{}, nil, fmt.Errorf("configure gemini client: %w", err)
	}

	ingestor := videos.NewIngestor(
		model,
		groups,
		videoRepo,
		thumbnails,
		videos.NewThumbnailer(cfg.Ingest.FFmpegPath, cfg.Ingest.FFprobePath, cfg.Ingest.CommandTimeout),
		videos.NewFetcher(&http.Client{}, cfg.Ingest.MaxDownloadBytes),
		videos.IngestorConfig{
			PollPolicy:      retry.Fixed(cfg.Gemini.PollInterval, cfg.Gemini.PollAttempts),
			MaxUploadBytes:  cfg.Ingest.MaxUploadBytes,
			DownloadTimeout: cfg.Ingest.DownloadTimeout,
		},
	)

	runner := batches.NewRunner(batchRepo, videoRepo, prompts, model)
	queue := batches.NewQueue(runner, batches.QueueConfig{
		QueueSize: cfg.Batches.QueueSize,
		Workers:   cfg.Batches.Workers,
	}, logger)

	embedder, reranker := newEmbedder(cfg.Embedding)
	searchService := search.NewService(batchRepo, videoRepo, embedder, reranker, thumbnails.PublicURL, cfg.Embedding.BatchSize)

	deps := handlers.Dependencies{
		Logger:         logger,
		Users:          users,
		Sessions:       sessions,
		Groups:         groups,
		Videos:         videoRepo,
		Ingestor:       ingestor,
		Prompts:        prompts,
		Batches:        batchRepo,
		Builder:        batches.NewBuilder(videoRepo, videoRepo, prompts, batchRepo),
		Scheduler:      queue,
		Models:         gemini.NewModelCache(model, cfg.Gemini.ModelCacheTTL),
		DefaultModel:   cfg.Gemini.DefaultModel,
		Search:         searchService,
		Thumbnails:     thumbnails,
		AuthLimiter:    middleware.NewKeyedLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, cfg.RateLimit.TTL),
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	}
	if pinger, ok := pool.(handlers.Pinger); ok {
		deps.DB = pinger
	}

	return components{
		HTTP:     deps,
		Users:    users,
		Ingestor: ingestor,
		Runner:   runner,
		Queue:    queue,
		Search:   searchService,
	}, queue.Shutdown, nil
}

// newEmbedder selects the embedding provider. Cohere also reranks; with
// OpenAI embeddings a Cohere key still enables reranking.
func newEmbedder(cfg config.EmbeddingConfig) (search.Embedder, search.Reranker) {
	if cfg.Provider == "openai" {
		embedder := search.NewOpenAIEmbedder(cfg.OpenAIAPIKey, "", cfg.Model, cfg.Dimensions)
		if cfg.CohereAPIKey == "" {
			return embedder, nil
		}
		return embedder, search.NewCohereClient(search.CohereConfig{
			APIKey:      cfg.CohereAPIKey,
			BaseURL:     cfg.CohereBaseURL,
			RerankModel: cfg.RerankModel,
		})
	}

	cohere := search.NewCohereClient(search.CohereConfig{
		APIKey:      cfg.CohereAPIKey,
		BaseURL:     cfg.CohereBaseURL,
		EmbedModel:  cfg.Model,
		RerankModel: cfg.RerankModel,
	})
	return cohere, cohere
}
