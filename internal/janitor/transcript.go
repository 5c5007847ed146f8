package janitor

import (
	"fmt"
	"strings"

	"github.com/router-for-me/prunepilot/internal/prune"
	"github.com/router-for-me/prunepilot/internal/session"
)

// Sentinels shown in place of ids the model must not target.
const (
	SentinelPruned    = "<already-pruned>"
	SentinelProtected = "<protected>"
)

const (
	maxTextRunes   = 2000
	maxErrorRunes  = 300
	maxInputRunes  = 4000
	maxOutputRunes = 200
)

// writeTools mutate the workspace; their input is the signal and is kept whole.
var writeTools = map[string]struct{}{
	"write": {}, "edit": {}, "multiedit": {}, "patch": {}, "apply_patch": {}, "str_replace_editor": {},
}

// readTools only observe; the resource they touched is enough context.
var readTools = map[string]struct{}{
	"read": {}, "grep": {}, "glob": {}, "list": {}, "ls": {}, "webfetch": {}, "websearch": {}, "codesearch": {},
}

// transcriptView is what minimize needs to know about the session.
type transcriptView interface {
	Record(id string) (prune.ToolCallRecord, bool)
	IsPruned(id string) bool
	NumericID(id string) int
}

// minimize renders msgs as compact text for the analysis model. Structural
// parts and synthetic guidance are dropped; tool calls are labelled with their
// numeric id, or a sentinel when they cannot be pruned.
func minimize(msgs []session.Message, view transcriptView, protected prune.Protected) string {
	var b strings.Builder
	for _, m := range msgs {
		role := m.Info.Role
		if role == "" {
			role = "unknown"
		}
		for _, p := range m.Parts {
			switch p.Type {
			case session.PartText:
				if p.Synthetic || p.Ignored {
					continue
				}
				text := strings.TrimSpace(p.Text)
				if text == "" {
					continue
				}
				fmt.Fprintf(&b, "[%s] %s\n", role, clip(text, maxTextRunes))
			case session.PartTool:
				writeTool(&b, p, view, protected)
			}
		}
	}
	return b.String()
}

func writeTool(b *strings.Builder, p session.Part, view transcriptView, protected prune.Protected) {
	if p.CallID == "" || p.Tool == "" || p.State == nil {
		return
	}
	rec, known := view.Record(p.CallID)
	// Children are described by their batch.
	if known && rec.ParentCallID != "" {
		if _, ok := view.Record(rec.ParentCallID); ok {
			return
		}
	}

	label := ""
	switch {
	case protected.Has(p.Tool):
		label = SentinelProtected
	case view.IsPruned(p.CallID):
		label = SentinelPruned
	case known:
		label = fmt.Sprintf("#%d", view.NumericID(p.CallID))
	default:
		return
	}

	tool := strings.ToLower(p.Tool)
	fmt.Fprintf(b, "[tool %s %s] status=%s", label, p.Tool, p.State.Status)
	switch {
	case known && rec.IsBatch():
		fmt.Fprintf(b, " batch of %d calls: %s", len(rec.Children), childSummary(rec, view))
	case isIn(writeTools, tool):
		fmt.Fprintf(b, " input=%s", clip(prune.CanonicalJSON(p.State.Input), maxInputRunes))
	case isIn(readTools, tool):
		if key := prune.PrimaryKey(p.State.Input); key != "" {
			fmt.Fprintf(b, " target=%s", clip(key, 200))
		}
	default:
		if key := prune.PrimaryKey(p.State.Input); key != "" {
			fmt.Fprintf(b, " target=%s", clip(key, 200))
		}
		if out := strings.TrimSpace(p.State.Output); out != "" {
			fmt.Fprintf(b, " output=%s", clip(out, maxOutputRunes))
		}
	}
	if p.State.Status == session.StatusError && p.State.Error != "" {
		fmt.Fprintf(b, " error=%s", clip(p.State.Error, maxErrorRunes))
	}
	b.WriteByte('\n')
}

func childSummary(rec prune.ToolCallRecord, view transcriptView) string {
	counts := make(map[string]int)
	var order []string
	for _, id := range rec.Children {
		child, ok := view.Record(id)
		if !ok {
			continue
		}
		if _, seen := counts[child.Tool]; !seen {
			order = append(order, child.Tool)
		}
		counts[child.Tool]++
	}
	parts := make([]string, 0, len(order))
	for _, t := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", t, counts[t]))
	}
	return strings.Join(parts, ", ")
}

func isIn(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
