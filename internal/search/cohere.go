// Package search embeds analysis summaries and answers semantic queries over
// them.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/cohere-ai/cohere-go/v2/option"

	"github.com/aviz85/gemini-video-playground/internal/retry"
)

// Input types distinguish stored documents from queries.
const (
	InputDocument = "search_document"
	InputQuery    = "search_query"
)

// Cohere defaults.
const (
	DefaultCohereBaseURL     = "https://api.cohere.com"
	DefaultCohereEmbedModel  = "embed-multilingual-v3.0"
	DefaultCohereRerankModel = "rerank-v3.5"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error)
}

// Ranked is one reranked document.
type Ranked struct {
	Index          int
	RelevanceScore float64
}

// Reranker orders documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Ranked, error)
}

// CohereConfig configures a CohereClient.
type CohereConfig struct {
	APIKey      string
	BaseURL     string
	EmbedModel  string
	RerankModel string
	HTTPClient  *http.Client
	Retry       retry.Policy
}

// CohereClient embeds and reranks through the Cohere SDK.
type CohereClient struct {
	sdk         *cohereclient.Client
	embedModel  string
	rerankModel string
	retry       retry.Policy
}

// CohereError is a non-2xx response from Cohere.
type CohereError struct {
	StatusCode int
	Message    string
}

func (e *CohereError) Error() string {
	return fmt.Sprintf("cohere: status %d: %s", e.StatusCode, e.Message)
}

// NewCohereClient constructs a client. Requests failing with 429 or 5xx are
// retried three times unless cfg.Retry says otherwise. The SDK's own retrier
// is limited to a single attempt so cfg.Retry alone decides.
func NewCohereClient(cfg CohereConfig) *CohereClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultCohereBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}

	client := &CohereClient{
		sdk: cohereclient.NewClient(
			option.WithToken(cfg.APIKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpClient),
			option.WithMaxAttempts(1),
		),
		embedModel:  cfg.EmbedModel,
		rerankModel: cfg.RerankModel,
		retry:       cfg.Retry,
	}
	if client.embedModel == "" {
		client.embedModel = DefaultCohereEmbedModel
	}
	if client.rerankModel == "" {
		client.rerankModel = DefaultCohereRerankModel
	}
	if client.retry.MaxAttempts == 0 {
		client.retry = retry.Fixed(2*time.Second, 3)
	}
	return client
}

// Embed returns one vector per text, in order.
func (c *CohereClient) Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	kind, err := cohere.NewEmbedInputTypeFromString(inputType)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	req := &cohere.EmbedRequest{
		Texts:          texts,
		Model:          cohere.String(c.embedModel),
		InputType:      kind.Ptr(),
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	}

	var resp *cohere.EmbedResponse
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.sdk.Embed(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	vectors := floatEmbeddings(resp)
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d texts", len(vectors), len(texts))
	}
	out := make([][]float32, len(vectors))
	for i, vector := range vectors {
		out[i] = make([]float32, len(vector))
		for j, value := range vector {
			out[i][j] = float32(value)
		}
	}
	return out, nil
}

func floatEmbeddings(resp *cohere.EmbedResponse) [][]float64 {
	switch {
	case resp == nil:
		return nil
	case resp.EmbeddingsByType != nil && resp.EmbeddingsByType.Embeddings != nil:
		return resp.EmbeddingsByType.Embeddings.Float
	case resp.EmbeddingsFloats != nil:
		return resp.EmbeddingsFloats.Embeddings
	}
	return nil
}

// Rerank returns up to topN documents, most relevant first.
func (c *CohereClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Ranked, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	items := make([]*cohere.RerankRequestDocumentsItem, len(documents))
	for i, document := range documents {
		items[i] = &cohere.RerankRequestDocumentsItem{String: document}
	}
	req := &cohere.RerankRequest{
		Model:     cohere.String(c.rerankModel),
		Query:     query,
		Documents: items,
		TopN:      cohere.Int(topN),
	}

	var resp *cohere.RerankResponse
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.sdk.Rerank(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	ranked := make([]Ranked, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result == nil {
			continue
		}
		if result.Index < 0 || result.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: result index %d out of range", result.Index)
		}
		ranked = append(ranked, Ranked{Index: result.Index, RelevanceScore: result.RelevanceScore})
	}
	return ranked, nil
}

// call runs fn under the retry policy, retrying rate limits and server errors.
func (c *CohereClient) call(ctx context.Context, fn func(context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		var sdkErr *core.APIError
		if errors.As(err, &sdkErr) {
			apiErr := &CohereError{StatusCode: sdkErr.StatusCode, Message: errorMessage(sdkErr)}
			return !retryable(apiErr.StatusCode), apiErr
		}
		return ctx.Err() != nil, err
	})
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// errorMessage extracts the "message" field Cohere puts in error bodies.
func errorMessage(err *core.APIError) string {
	raw := ""
	if inner := err.Unwrap(); inner != nil {
		raw = strings.TrimSpace(inner.Error())
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return raw
}

// IsRateLimited reports whether err is a Cohere 429.
func IsRateLimited(err error) bool {
	var apiErr *CohereError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

var (
	_ Embedder = (*CohereClient)(nil)
	_ Reranker = (*CohereClient)(nil)
)
