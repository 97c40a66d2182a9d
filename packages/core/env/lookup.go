package env

import (
	"fmt"
	"strconv"
	"strings"
)

// HeaderMap is a map whose keys match case-insensitively, used for response
// headers in template lookups.
type HeaderMap map[string]any

// SplitPath breaks a.b[0]["x-y"].c into its segments.
func SplitPath(path string) ([]string, error) {
	var segments []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in %q", path)
			}
			key := strings.TrimSpace(path[i+1 : i+end])
			if len(key) >= 2 && (key[0] == '"' || key[0] == '\'') && key[len(key)-1] == key[0] {
				key = key[1 : len(key)-1]
			}
			segments = append(segments, key)
			i += end
		default:
			current.WriteByte(ch)
		}
	}
	flush()
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return segments, nil
}

// WalkPath follows segments from root. It reports false as soon as a segment is
// missing or the current value cannot be indexed.
func WalkPath(root any, segments []string) (any, bool) {
	cur := root
	for _, seg := range segments {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(v any, key string) (any, bool) {
	switch x := v.(type) {
	case map[string]any:
		val, ok := x[key]
		return val, ok
	case HeaderMap:
		if val, ok := x[key]; ok {
			return val, true
		}
		for k, val := range x {
			if strings.EqualFold(k, key) {
				return val, true
			}
		}
		return nil, false
	case map[string]string:
		val, ok := x[key]
		return val, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], true
	case []string:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], true
	default:
		return nil, false
	}
}
