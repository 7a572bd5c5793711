package results

import (
	"sort"
	"strconv"
)

// MaxFields bounds the number of fields Flatten emits.
const MaxFields = 500

// Field is one displayable leaf of a parsed result. Truncated fields stand in
// for a subtree that was deeper than the traversal limit, or for everything
// left over once MaxFields was reached.
type Field struct {
	Path      string `json:"path"`
	Value     any    `json:"value,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Flatten walks data depth first in key order and returns its leaves.
// Containers nested deeper than maxDepth are reported as a single truncated
// field.
func Flatten(data map[string]any, maxDepth int) []Field {
	if maxDepth < 1 {
		maxDepth = 1
	}
	f := flattener{maxDepth: maxDepth}
	f.walkMap("", data, 1)
	return f.fields
}

type flattener struct {
	maxDepth int
	fields   []Field
	full     bool
}

func (f *flattener) emit(field Field) {
	if f.full {
		return
	}
	if len(f.fields) == MaxFields-1 {
		f.fields = append(f.fields, Field{Path: field.Path, Truncated: true})
		f.full = true
		return
	}
	f.fields = append(f.fields, field)
}

func (f *flattener) walk(path string, value any, depth int) {
	switch v := value.(type) {
	case map[string]any:
		if depth > f.maxDepth {
			f.emit(Field{Path: path, Truncated: true})
			return
		}
		if len(v) == 0 {
			f.emit(Field{Path: path, Value: v})
			return
		}
		f.walkMap(path, v, depth)
	case []any:
		if depth > f.maxDepth {
			f.emit(Field{Path: path, Truncated: true})
			return
		}
		if len(v) == 0 {
			f.emit(Field{Path: path, Value: v})
			return
		}
		for i, child := range v {
			f.walk(path+"["+strconv.Itoa(i)+"]", child, depth+1)
		}
	default:
		f.emit(Field{Path: path, Value: v})
	}
}

func (f *flattener) walkMap(prefix string, m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		f.walk(path, m[key], depth+1)
		if f.full {
			return
		}
	}
}
