package prune

import (
	"fmt"
	"strings"
)

// primaryParams lists, in preference order, the parameters that identify what
// a tool call touched.
var primaryParams = []string{
	"filePath", "file_path", "path", "file",
	"pattern", "command", "cmd",
	"url", "query", "description", "name", "id",
}

// PrimaryKey returns the dominant parameter of a call, e.g. the path of a read
// or the command line of a shell call. Empty when none is recognised.
func PrimaryKey(params any) string {
	m, ok := params.(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}
	for _, key := range primaryParams {
		if v, ok := m[key]; ok && v != nil {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	// Tools with a single parameter are identified by it.
	if len(m) == 1 {
		for _, v := range m {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// ShortenKey makes a key fit into max runes. Paths keep their trailing
// segments, other text is truncated with an ellipsis.
func ShortenKey(key string, max int) string {
	key = strings.Join(strings.Fields(key), " ")
	if max <= 3 || len([]rune(key)) <= max {
		return key
	}
	if strings.Contains(key, "/") && !strings.Contains(key, " ") {
		segs := strings.Split(key, "/")
		tail := segs[len(segs)-1]
		for i := len(segs) - 2; i >= 0; i-- {
			next := segs[i] + "/" + tail
			if len([]rune(next))+4 > max {
				break
			}
			tail = next
		}
		if len([]rune(tail))+4 <= max {
			return ".../" + tail
		}
	}
	r := []rune(key)
	return string(r[:max-3]) + "..."
}
