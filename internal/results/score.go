package results

import (
	"maps"
	"math"
	"slices"
	"strings"
)

var scoreSuffixes = []string{"level", "rating", "score"}

// OverallScore derives the aggregate score of a parsed result. Only mappings
// directly under the top level are inspected; inside each, numeric values
// whose key ends in level, rating or score (case-insensitively) and that are
// strictly positive are averaged. The mean is scaled by 100 and rounded. A
// result with no qualifying values scores 0. Values are summed in key order
// so the same data always rounds the same way.
func OverallScore(data map[string]any) int {
	var (
		sum   float64
		count int
	)
	for _, name := range slices.Sorted(maps.Keys(data)) {
		section, ok := data[name].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range slices.Sorted(maps.Keys(section)) {
			if !scoreKey(key) {
				continue
			}
			n, ok := Number(section[key])
			if !ok || n <= 0 {
				continue
			}
			sum += n
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return int(math.Round(sum / float64(count) * 100))
}

func scoreKey(key string) bool {
	key = strings.ToLower(key)
	for _, suffix := range scoreSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// Beautify reshapes well-known sections for display. Sections that do not
// have the expected shape are left untouched. The input is not modified.
func Beautify(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}

	if quality, ok := data["videoQuality"].(map[string]any); ok {
		visual, hasVisual := quality["visual"]
		description, hasDescription := quality["description"]
		if hasVisual && hasDescription {
			out["videoQuality"] = map[string]any{"rating": visual, "details": description}
		}
	}

	if categories, ok := data["categories"].(map[string]any); ok {
		if selections, ok := categories["selections"]; ok {
			out["categories"] = selections
		}
	}

	if toxicity, ok := data["toxicity"].(map[string]any); ok {
		acceptable, hasAcceptable := toxicity["isAcceptable"]
		level, hasLevel := toxicity["level"]
		if hasAcceptable && hasLevel {
			notes := any("None")
			if reason, ok := toxicity["reason"]; ok && truthy(reason) {
				notes = reason
			}
			out["toxicity"] = map[string]any{"acceptable": acceptable, "level": level, "notes": notes}
		}
	}

	return out
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	if n, ok := Number(value); ok {
		return n != 0
	}
	return true
}
