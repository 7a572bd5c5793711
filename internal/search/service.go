package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
)

// Search bounds.
const (
	DefaultBatchSize = 96
	DefaultInitialK  = 30
	DefaultFinalK    = 10
	MinInitialK      = 10
	MaxInitialK      = 100
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("search query is required")

// EmbeddingStore persists summary embeddings and answers kNN queries.
type EmbeddingStore interface {
	ListMissingEmbeddings(ctx context.Context, ownerID string, limit int) ([]models.AnalysisTask, error)
	SaveEmbedding(ctx context.Context, taskID string, embedding []float32) error
	NearestSummaries(ctx context.Context, ownerID string, query []float32, limit int) ([]models.SummaryNeighbor, error)
}

// VideoLookup loads videos.
type VideoLookup interface {
	FindByID(ctx context.Context, id string) (models.Video, error)
}

// Hit is one search result.
type Hit struct {
	TaskID         string             `json:"taskId"`
	BatchID        string             `json:"batchId"`
	VideoID        string             `json:"videoId"`
	Title          string             `json:"title"`
	Summary        string             `json:"summary"`
	Distance       float64            `json:"distance"`
	RelevanceScore *float64           `json:"relevanceScore,omitempty"`
	Result         *models.TaskResult `json:"result,omitempty"`
	ThumbnailURL   string             `json:"thumbnailUrl,omitempty"`
}

// Options tunes a search. Zero values select the defaults.
type Options struct {
	InitialK int
	FinalK   int
}

// Normalize clamps InitialK to [MinInitialK, MaxInitialK] and FinalK to
// [1, InitialK].
func (o Options) Normalize() Options {
	if o.InitialK <= 0 {
		o.InitialK = DefaultInitialK
	}
	o.InitialK = min(max(o.InitialK, MinInitialK), MaxInitialK)
	if o.FinalK <= 0 {
		o.FinalK = DefaultFinalK
	}
	o.FinalK = min(o.FinalK, o.InitialK)
	return o
}

// Service embeds summaries on demand and runs semantic queries.
type Service struct {
	store        EmbeddingStore
	videos       VideoLookup
	embedder     Embedder
	reranker     Reranker
	thumbnailURL func(string) string
	batchSize    int
}

// NewService constructs a Service. reranker may be nil, in which case hits
// are ordered by distance alone. thumbnailURL resolves stored thumbnail keys.
func NewService(store EmbeddingStore, videos VideoLookup, embedder Embedder, reranker Reranker, thumbnailURL func(string) string, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{
		store:        store,
		videos:       videos,
		embedder:     embedder,
		reranker:     reranker,
		thumbnailURL: thumbnailURL,
		batchSize:    batchSize,
	}
}

// EmbedMissing embeds every stored summary lacking an embedding, batchSize
// summaries per request, and returns how many were stored. An empty ownerID
// spans every owner.
func (s *Service) EmbedMissing(ctx context.Context, ownerID string) (total int, err error) {
	ctx, span := logging.StartSpan(ctx, "search.embed_missing", "owner_id", ownerID)
	defer func() {
		span.Fail(err)
		span.End()
	}()

	for {
		tasks, err := s.store.ListMissingEmbeddings(ctx, ownerID, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("list missing embeddings: %w", err)
		}
		if len(tasks) == 0 {
			break
		}

		texts := make([]string, len(tasks))
		for i, task := range tasks {
			texts[i] = task.Summary
		}
		vectors, err := s.embedder.Embed(ctx, texts, InputDocument)
		if err != nil {
			return total, err
		}
		if len(vectors) != len(tasks) {
			return total, fmt.Errorf("embedder returned %d vectors for %d summaries", len(vectors), len(tasks))
		}

		for i, task := range tasks {
			if err := s.store.SaveEmbedding(ctx, task.ID, vectors[i]); err != nil {
				return total, fmt.Errorf("save embedding for task %s: %w", task.ID, err)
			}
			total++
		}

		if len(tasks) < s.batchSize {
			break
		}
	}

	if total > 0 {
		logging.FromContext(ctx).Info("summaries embedded", "count", total)
	}
	return total, nil
}

// Search embeds pending summaries of the session owner, retrieves the
// InitialK nearest summaries to the query and reranks them down to FinalK.
func (s *Service) Search(ctx context.Context, session auth.Session, query string, opts Options) (hits []Hit, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	opts = opts.Normalize()

	ctx, span := logging.StartSpan(ctx, "search.query", "initial_k", opts.InitialK, "final_k", opts.FinalK)
	defer func() {
		span.Fail(err)
		span.End()
	}()

	if _, err := s.EmbedMissing(ctx, session.UserID); err != nil {
		return nil, fmt.Errorf("embed pending summaries: %w", err)
	}

	vectors, err := s.embedder.Embed(ctx, []string{query}, InputQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}

	neighbors, err := s.store.NearestSummaries(ctx, session.UserID, vectors[0], opts.InitialK)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return []Hit{}, nil
	}

	ordered, scores, err := s.rank(ctx, query, neighbors, opts.FinalK)
	if err != nil {
		return nil, err
	}

	hits = make([]Hit, 0, len(ordered))
	for i, neighbor := range ordered {
		hit := Hit{
			TaskID:   neighbor.TaskID,
			BatchID:  neighbor.BatchID,
			VideoID:  neighbor.VideoID,
			Title:    neighbor.VideoID,
			Summary:  neighbor.Summary,
			Distance: neighbor.Distance,
			Result:   neighbor.Result,
		}
		if scores != nil {
			score := scores[i]
			hit.RelevanceScore = &score
		}
		s.decorate(ctx, &hit)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Service) rank(ctx context.Context, query string, neighbors []models.SummaryNeighbor, finalK int) ([]models.SummaryNeighbor, []float64, error) {
	if s.reranker == nil {
		if len(neighbors) > finalK {
			neighbors = neighbors[:finalK]
		}
		return neighbors, nil, nil
	}

	documents := make([]string, len(neighbors))
	for i, neighbor := range neighbors {
		documents[i] = neighbor.Summary
	}
	ranked, err := s.reranker.Rerank(ctx, query, documents, finalK)
	if err != nil {
		return nil, nil, fmt.Errorf("rerank: %w", err)
	}

	ordered := make([]models.SummaryNeighbor, 0, len(ranked))
	scores := make([]float64, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(neighbors) {
			continue
		}
		ordered = append(ordered, neighbors[r.Index])
		scores = append(scores, r.RelevanceScore)
	}
	return ordered, scores, nil
}

// decorate adds the video title and thumbnail. Lookup failures leave the hit
// undecorated.
func (s *Service) decorate(ctx context.Context, hit *Hit) {
	if s.videos == nil {
		return
	}
	video, err := s.videos.FindByID(ctx, hit.VideoID)
	if err != nil {
		logging.FromContext(ctx).Warn("load video for search hit", "video_id", hit.VideoID, "error", err)
		return
	}
	hit.Title = video.Title()
	if !video.IsRed && video.ThumbnailRef != "" && s.thumbnailURL != nil {
		hit.ThumbnailURL = s.thumbnailURL(video.ThumbnailRef)
	}
}
