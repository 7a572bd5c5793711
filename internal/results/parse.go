// Package results turns stored model output into display data, derived scores
// and batch level analytics.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

var (
	jsonFence    = regexp.MustCompile("(?s)```json[ \t]*\r?\n(.*?)\r?\n?```")
	genericFence = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)\r?\n?```")
)

// ExtractJSON returns the body of the first ```json fenced block, falling
// back to any fenced block and finally to the trimmed raw text.
func ExtractJSON(raw string) string {
	if match := jsonFence.FindStringSubmatch(raw); match != nil {
		return strings.TrimSpace(match[1])
	}
	if match := genericFence.FindStringSubmatch(raw); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(raw)
}

// Parsed is the decoded payload of a task result. Error is set instead of
// Data when the payload is not a JSON object.
type Parsed struct {
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Empty reports whether nothing was decoded.
func (p Parsed) Empty() bool {
	return len(p.Data) == 0 && p.Error == ""
}

// Parse decodes the JSON payload of a task result. A nil result or an empty
// analysis yields an empty Parsed.
func Parse(result *models.TaskResult) Parsed {
	if result == nil || strings.TrimSpace(result.Analysis) == "" {
		return Parsed{}
	}
	return ParseText(result.Analysis)
}

// ParseText decodes the JSON payload embedded in raw model output. The
// payload must hold exactly one JSON object.
func ParseText(raw string) Parsed {
	payload := ExtractJSON(raw)

	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()

	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return Parsed{Error: fmt.Sprintf("Invalid JSON format: %v", err)}
	}
	if data == nil {
		return Parsed{Error: "Invalid JSON format: expected an object"}
	}
	end := decoder.InputOffset()
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Parsed{Error: fmt.Sprintf("Invalid JSON format: extra data after JSON object at offset %d", end)}
	}
	return Parsed{Data: normalizeNumbers(data).(map[string]any)}
}

// normalizeNumbers converts json.Number values into int64 when integral and
// float64 otherwise.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			v[key] = normalizeNumbers(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = normalizeNumbers(child)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

// Summary returns the text stored alongside a completed task: the payload's
// summary field when present, otherwise the first 2000 characters of raw.
func Summary(raw string) string {
	parsed := ParseText(raw)
	if summary, ok := parsed.Data["summary"].(string); ok && strings.TrimSpace(summary) != "" {
		return strings.TrimSpace(summary)
	}
	return truncateRunes(strings.TrimSpace(raw), 2000)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// Number reports value as a float64 when it is a JSON number. Booleans are
// not numbers.
func Number(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
