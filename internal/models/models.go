package models

import "time"

// User represents an operator account.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VideoGroup collects videos analysed together. IsRed marks sensitive content
// whose thumbnails are neither generated nor displayed.
type VideoGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsRed       bool      `json:"isRed"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Video references a file uploaded to the model API.
type Video struct {
	ID              string         `json:"id"`
	GroupID         string         `json:"groupId"`
	ExternalFileRef string         `json:"externalFileRef"`
	ExternalFileURI string         `json:"externalFileUri"`
	MimeType        string         `json:"mimeType"`
	ThumbnailRef    string         `json:"thumbnailRef,omitempty"`
	SourceURL       string         `json:"sourceUrl,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	OwnerID         string         `json:"ownerId"`
	IsRed           bool           `json:"isRed"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Title returns the metadata title, falling back to the video id.
func (v Video) Title() string {
	if title, ok := v.Metadata["title"].(string); ok && title != "" {
		return title
	}
	return v.ID
}

// Prompt is a reusable analysis instruction.
type Prompt struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Batch statuses.
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
)

// AnalysisBatch aggregates the tasks of one run against a model.
type AnalysisBatch struct {
	ID          string     `json:"id"`
	ModelName   string     `json:"modelName"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	TotalVideos int        `json:"totalVideos"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Task statuses. A task only ever moves from pending to completed or failed.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// TaskResult is the stored model output of a completed task.
type TaskResult struct {
	Analysis string `json:"analysis"`
}

// AnalysisTask is one (video, prompt) unit of work within a batch.
type AnalysisTask struct {
	ID           string      `json:"id"`
	BatchID      string      `json:"batchId"`
	VideoID      string      `json:"videoId"`
	PromptID     string      `json:"promptId"`
	Status       string      `json:"status"`
	Result       *TaskResult `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
	Summary      string      `json:"summary,omitempty"`
	HasEmbedding bool        `json:"hasEmbedding"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// TaskDetail joins a task with the video and prompt it refers to.
type TaskDetail struct {
	Task   AnalysisTask
	Video  Video
	Prompt Prompt
}

// SummaryNeighbor is a stored task summary returned by a nearest neighbour query.
type SummaryNeighbor struct {
	TaskID   string
	BatchID  string
	VideoID  string
	Summary  string
	Result   *TaskResult
	Distance float64
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
