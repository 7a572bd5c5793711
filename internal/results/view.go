package results

import (
	"strings"
	"time"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// DefaultDepth is the nesting depth shown by result views.
const DefaultDepth = 4

// View is the display form of one task result.
type View struct {
	TaskID       string         `json:"taskId"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	VideoID      string         `json:"videoId"`
	Title        string         `json:"title"`
	SourceURL    string         `json:"sourceUrl,omitempty"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	PromptID     string         `json:"promptId"`
	PromptText   string         `json:"promptText"`
	Result       map[string]any `json:"result,omitempty"`
	ParseError   string         `json:"parseError,omitempty"`
	OverallScore int            `json:"overallScore"`
	Fields       []Field        `json:"fields,omitempty"`
	Raw          string         `json:"raw,omitempty"`
}

// BuildView renders a task detail. thumbnailURL resolves stored thumbnail
// keys; thumbnails of red videos are never exposed.
func BuildView(detail models.TaskDetail, thumbnailURL func(string) string, maxDepth int) View {
	if maxDepth <= 0 {
		maxDepth = DefaultDepth
	}
	view := View{
		TaskID:      detail.Task.ID,
		Status:      detail.Task.Status,
		Error:       detail.Task.Error,
		CompletedAt: detail.Task.CompletedAt,
		VideoID:     detail.Video.ID,
		Title:       detail.Video.Title(),
		SourceURL:   detail.Video.SourceURL,
		Metadata:    detail.Video.Metadata,
		PromptID:    detail.Prompt.ID,
		PromptText:  detail.Prompt.Text,
	}
	if !detail.Video.IsRed && detail.Video.ThumbnailRef != "" && thumbnailURL != nil {
		view.ThumbnailURL = thumbnailURL(detail.Video.ThumbnailRef)
	}

	if detail.Task.Result == nil {
		return view
	}
	view.Raw = detail.Task.Result.Analysis

	parsed := Parse(detail.Task.Result)
	if parsed.Error != "" {
		view.ParseError = parsed.Error
		return view
	}
	view.Result = Beautify(parsed.Data)
	view.OverallScore = OverallScore(parsed.Data)
	view.Fields = Flatten(view.Result, maxDepth)
	return view
}

// FilterStatuses keeps the details whose task status is listed. An empty list
// keeps completed tasks only.
func FilterStatuses(details []models.TaskDetail, statuses []string) []models.TaskDetail {
	allowed := map[string]bool{}
	for _, status := range statuses {
		status = strings.TrimSpace(strings.ToLower(status))
		if status != "" {
			allowed[status] = true
		}
	}
	if len(allowed) == 0 {
		allowed[models.TaskStatusCompleted] = true
	}

	filtered := make([]models.TaskDetail, 0, len(details))
	for _, detail := range details {
		if allowed[detail.Task.Status] {
			filtered = append(filtered, detail)
		}
	}
	return filtered
}
