// Package gemini talks to the Gemini API through the genai SDK: it uploads
// video files, waits for them to become usable, and asks a model to analyse
// them.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/retry"
)

const (
	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel is used when a batch does not name a model.
	DefaultModel = "models/gemini-1.5-pro"
)

// File states reported by the API.
const (
	StateProcessing = string(genai.FileStateProcessing)
	StateActive     = string(genai.FileStateActive)
	StateFailed     = string(genai.FileStateFailed)
)

var (
	// ErrFileFailed indicates the API gave up processing an uploaded file.
	ErrFileFailed = errors.New("gemini file processing failed")
	// ErrFileNotReady indicates a file was still processing when polling stopped.
	ErrFileNotReady = errors.New("gemini file not ready")
	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("gemini returned an empty response")
	// ErrUploadFailed indicates the file API did not accept an upload.
	ErrUploadFailed = errors.New("gemini upload failed")
)

// GenerationConfig holds the sampling parameters sent with every request.
type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

// DefaultGenerationConfig is the fixed configuration used for analysis runs.
var DefaultGenerationConfig = GenerationConfig{
	Temperature:     0.4,
	TopP:            0.8,
	TopK:            40,
	MaxOutputTokens: 2048,
}

func (g GenerationConfig) content() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.Temperature),
		TopP:            genai.Ptr(g.TopP),
		TopK:            genai.Ptr(g.TopK),
		MaxOutputTokens: g.MaxOutputTokens,
	}
}

// File describes an uploaded file.
type File struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName,omitempty"`
	URI         string      `json:"uri"`
	MimeType    string      `json:"mimeType"`
	SizeBytes   string      `json:"sizeBytes,omitempty"`
	State       string      `json:"state"`
	Error       *FileStatus `json:"error,omitempty"`
}

// FileStatus carries the processing error of a failed file.
type FileStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func fileFrom(f *genai.File) File {
	if f == nil {
		return File{}
	}
	file := File{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MimeType:    f.MIMEType,
		State:       string(f.State),
	}
	if f.SizeBytes != nil {
		file.SizeBytes = strconv.FormatInt(*f.SizeBytes, 10)
	}
	if f.Error != nil {
		file.Error = &FileStatus{Message: f.Error.Message}
		if f.Error.Code != nil {
			file.Error.Code = int(*f.Error.Code)
		}
	}
	return file
}

// FileRef points a generation request at an uploaded file.
type FileRef struct {
	URI      string
	MimeType string
}

// Model describes a model offered by the API.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

func modelFrom(m *genai.Model) Model {
	return Model{
		Name:                       m.Name,
		DisplayName:                m.DisplayName,
		Description:                m.Description,
		InputTokenLimit:            int(m.InputTokenLimit),
		OutputTokenLimit:           int(m.OutputTokenLimit),
		SupportedGenerationMethods: m.SupportedActions,
	}
}

// SupportsGenerateContent reports whether the model accepts generateContent calls.
func (m Model) SupportsGenerateContent() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini api: status %d: %s", e.StatusCode, e.Message)
}

// apiError converts SDK errors into *APIError so callers need not import genai.
func apiError(err error) error {
	var sdkErr genai.APIError
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.Code, Status: sdkErr.Status, Message: sdkErr.Message}
	}
	return err
}

// Config configures a Client.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Client wraps the genai SDK with request throttling and the conversions
// the rest of the application relies on.
type Client struct {
	genai   *genai.Client
	limiter *rate.Limiter
}

// NewClient constructs a Client. A non-positive RequestsPerMinute disables throttling.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL + "/"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{genai: sdk, limiter: limiter}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}
	return nil
}

// UploadFile streams r to the file API.
func (c *Client) UploadFile(ctx context.Context, displayName, mimeType string, r io.Reader) (File, error) {
	if err := c.wait(ctx); err != nil {
		return File{}, err
	}

	uploaded, err := c.genai.Files.Upload(ctx, r, &genai.UploadFileConfig{DisplayName: displayName, MIMEType: mimeType})
	if err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrUploadFailed, apiError(err))
	}

	file := fileFrom(uploaded)
	logging.FromContext(ctx).Info("uploaded file to gemini", "file", file.Name, "state", file.State)
	return file, nil
}

// GetFile fetches the current state of an uploaded file.
func (c *Client) GetFile(ctx context.Context, name string) (File, error) {
	if err := c.wait(ctx); err != nil {
		return File{}, err
	}

	file, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return File{}, fmt.Errorf("get file %s: %w", name, apiError(err))
	}
	return fileFrom(file), nil
}

// WaitForActive polls a file with the supplied policy until it is ACTIVE.
// A FAILED file stops polling immediately.
func (c *Client) WaitForActive(ctx context.Context, name string, policy retry.Policy) (File, error) {
	var file File
	err := policy.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		current, err := c.GetFile(ctx, name)
		if err != nil {
			return true, err
		}
		file = current

		switch current.State {
		case StateActive:
			return true, nil
		case StateFailed:
			message := "unknown error"
			if current.Error != nil && current.Error.Message != "" {
				message = current.Error.Message
			}
			return true, fmt.Errorf("%w: %s", ErrFileFailed, message)
		default:
			logging.FromContext(ctx).Debug("waiting for gemini file", "file", name, "state", current.State, "attempt", attempt+1)
			return false, fmt.Errorf("%w: state %s", ErrFileNotReady, current.State)
		}
	})
	if err != nil {
		return File{}, err
	}
	return file, nil
}

// GenerateContent asks model to answer prompt about the referenced file and
// returns the concatenated text of the first candidate.
func (c *Client) GenerateContent(ctx context.Context, model string, file FileRef, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := c.genai.Models.GenerateContent(ctx, modelPath(model), contents, DefaultGenerationConfig.content())
	if err != nil {
		return "", fmt.Errorf("generate content: %w", apiError(err))
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: blocked: %s", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ListModels returns every model visible to the API key.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var models []Model
	for model, err := range c.genai.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list models: %w", apiError(err))
		}
		models = append(models, modelFrom(model))
	}
	return models, nil
}

// GenerativeModels returns the models that support generateContent.
func (c *Client) GenerativeModels(ctx context.Context) ([]Model, error) {
	all, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return filterGenerative(all), nil
}

func filterGenerative(all []Model) []Model {
	models := make([]Model, 0, len(all))
	for _, model := range all {
		if model.SupportsGenerateContent() {
			models = append(models, model)
		}
	}
	return models
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete file %s: %w", name, apiError(err))
	}
	return nil
}

func modelPath(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return model
}
