package results

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// ErrInsufficientData is returned when a correlation cannot be computed.
var ErrInsufficientData = errors.New("not enough data for correlation")

// Stats counts a batch's tasks by status.
type Stats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Pending       int     `json:"pending"`
	CompletionPct float64 `json:"completionPct"`
}

// ComputeStats tallies tasks by status. CompletionPct is the completed share
// in percent, rounded to one decimal.
func ComputeStats(tasks []models.AnalysisTask) Stats {
	var stats Stats
	for _, task := range tasks {
		stats.Total++
		switch task.Status {
		case models.TaskStatusCompleted:
			stats.Completed++
		case models.TaskStatusFailed:
			stats.Failed++
		case models.TaskStatusPending:
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.CompletionPct = math.Round(float64(stats.Completed)/float64(stats.Total)*1000) / 10
	}
	return stats
}

// Point pairs a result score with a numeric video attribute.
type Point struct {
	TaskID  string  `json:"taskId"`
	VideoID string  `json:"videoId"`
	Score   float64 `json:"score"`
	Value   float64 `json:"value"`
}

// Correlation is the Pearson correlation between scores and attribute values.
type Correlation struct {
	MetadataKey string  `json:"metadataKey"`
	N           int     `json:"n"`
	Coefficient float64 `json:"coefficient"`
	Points      []Point `json:"points"`
}

// Pearson returns the correlation coefficient of the points' Score and Value.
func Pearson(points []Point) (float64, error) {
	n := float64(len(points))
	if len(points) < 2 {
		return 0, ErrInsufficientData
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.Score
		sumY += p.Value
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for _, p := range points {
		dx, dy := p.Score-meanX, p.Value-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, ErrInsufficientData
	}
	return cov / math.Sqrt(varX*varY), nil
}

// Correlate pairs the overall score of every completed task with the numeric
// metadata value under key of its video and correlates them. Tasks whose
// result does not parse or whose video lacks a numeric value are skipped.
func Correlate(details []models.TaskDetail, key string) (Correlation, error) {
	corr := Correlation{MetadataKey: key, Points: []Point{}}
	for _, detail := range details {
		if detail.Task.Status != models.TaskStatusCompleted {
			continue
		}
		parsed := Parse(detail.Task.Result)
		if parsed.Error != "" || parsed.Empty() {
			continue
		}
		value, ok := MetadataNumber(detail.Video.Metadata, key)
		if !ok {
			continue
		}
		corr.Points = append(corr.Points, Point{
			TaskID:  detail.Task.ID,
			VideoID: detail.Video.ID,
			Score:   float64(OverallScore(parsed.Data)),
			Value:   value,
		})
	}
	corr.N = len(corr.Points)

	coefficient, err := Pearson(corr.Points)
	if err != nil {
		return corr, err
	}
	corr.Coefficient = coefficient
	return corr, nil
}

// MetadataNumber reads a numeric metadata value, accepting numeric strings
// such as those imported from CSV files.
func MetadataNumber(metadata map[string]any, key string) (float64, bool) {
	value, ok := metadata[key]
	if !ok {
		return 0, false
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return Number(value)
}
