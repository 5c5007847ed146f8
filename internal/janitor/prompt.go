package janitor

import (
	"sort"
	"strconv"
	"strings"

	"github.com/router-for-me/prunepilot/internal/llm"
)

const (
	fieldIDs       = "pruned_tool_call_ids"
	fieldReasoning = "reasoning"
)

// analysisSchema constrains the answer to an id list plus a rationale.
var analysisSchema = llm.Schema{
	Name: "obsolete_tool_calls",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			fieldIDs: map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			fieldReasoning: map[string]any{"type": "string"},
		},
		"required":             []string{fieldIDs, fieldReasoning},
		"additionalProperties": false,
	},
}

const promptHeader = `Review the transcript of an AI coding session and decide which tool outputs are obsolete.

A tool output is obsolete when:
- a later call read or listed the same resource again,
- the file it shows was rewritten or edited afterwards,
- it was an exploratory search whose result is no longer used,
- it failed and a later call succeeded at the same task.

Keep outputs the assistant still relies on for the current task. When unsure, keep.
Only ids from the candidate list may be returned. Calls labelled ` + SentinelPruned + ` or ` + SentinelProtected + ` are not candidates.`

func buildPrompt(transcript string, candidates []int) string {
	sorted := append([]int(nil), candidates...)
	sort.Ints(sorted)
	ids := make([]string, len(sorted))
	for i, n := range sorted {
		ids[i] = strconv.Itoa(n)
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nCandidate ids: ")
	b.WriteString(strings.Join(ids, ", "))
	b.WriteString("\n\n<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("</transcript>\n\n")
	b.WriteString(`Answer with {"` + fieldIDs + `": ["<id>", ...], "` + fieldReasoning + `": "<one or two sentences>"}.`)
	return b.String()
}

// parseNumericID accepts "7", "#7" and 7.0 style answers.
func parseNumericID(s string) (int, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), f > 0
	}
	return 0, false
}
