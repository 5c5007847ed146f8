package formats

import (
	"strconv"
	"strings"
)

// PositionEntry is one tool result as it appears in the transcript.
type PositionEntry struct {
	ID   string
	Tool string
}

// PositionIndex maps toolName:occurrence to the call id for wire formats that
// address function responses by position only. Occurrences are 1-based and
// counted per tool name in document order.
type PositionIndex struct {
	byKey map[string]string
}

func NewPositionIndex() *PositionIndex {
	return &PositionIndex{byKey: make(map[string]string)}
}

func positionKey(tool string, n int) string {
	return strings.ToLower(strings.TrimSpace(tool)) + ":" + strconv.Itoa(n)
}

// Rebuild replaces the index with entries, which must be in transcript order.
func (p *PositionIndex) Rebuild(entries []PositionEntry) {
	counts := make(map[string]int)
	byKey := make(map[string]string, len(entries))
	for _, e := range entries {
		tool := strings.ToLower(strings.TrimSpace(e.Tool))
		if tool == "" || e.ID == "" {
			continue
		}
		counts[tool]++
		byKey[positionKey(tool, counts[tool])] = e.ID
	}
	p.byKey = byKey
}

// Resolve returns the id of the n-th result of tool.
func (p *PositionIndex) Resolve(tool string, n int) (string, bool) {
	if p == nil || n <= 0 {
		return "", false
	}
	id, ok := p.byKey[positionKey(tool, n)]
	return id, ok
}

// Len returns the number of indexed positions.
func (p *PositionIndex) Len() int {
	if p == nil {
		return 0
	}
	return len(p.byKey)
}
