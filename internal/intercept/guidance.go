package intercept

import (
	"fmt"
	"strings"

	"github.com/router-for-me/prunepilot/internal/formats"
	"github.com/router-for-me/prunepilot/internal/prune"
)

const maxListKeyLen = 60

const cooldownNotice = "Context was just pruned. Do not call the prune tool again until more tool calls have been made; " +
	"a fresh list of prunable outputs will appear then."

const nudgeReminder = "<system-reminder>\nMany tool results have accumulated since the last prune. " +
	"Review the prunable-tools list and call the prune tool with the ids of outputs you no longer need.\n</system-reminder>"

// listHeader explains the list format to the acting model.
const listHeader = "Tool outputs you may prune with the prune tool, as id: tool, target."

// BuildPrunableList renders entries as one "N: tool, key" line each.
// It returns "" when there is nothing to prune.
func BuildPrunableList(entries []prune.PrunableEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(listHeader)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%d: %s", e.Number, e.Tool)
		if key := prune.ShortenKey(e.Key, maxListKeyLen); key != "" {
			b.WriteString(", ")
			b.WriteString(key)
		}
	}
	return b.String()
}

// Guidance is the synthetic text due for one outbound request.
type Guidance struct {
	// List is the prunable list or the cooldown notice, untagged.
	List  string
	Nudge string
}

// Empty reports whether nothing is due.
func (g Guidance) Empty() bool { return g.List == "" && g.Nudge == "" }

// BuildGuidance decides what to inject for the session's current turn state.
// While cooling down the list is replaced by a notice; the nudge is
// independent of the cooldown.
func BuildGuidance(turn prune.TurnState, entries []prune.PrunableEntry, nudgeFrequency int) Guidance {
	var g Guidance
	if turn.Phase == prune.PhaseJustPruned {
		g.List = cooldownNotice
	} else {
		g.List = BuildPrunableList(entries)
	}
	if turn.NudgeDue(nudgeFrequency) && len(entries) > 0 {
		g.Nudge = nudgeReminder
	}
	return g
}

// inject writes g into body through a. It reports whether body changed.
func (g Guidance) inject(a formats.Adapter, body []byte) ([]byte, bool) {
	changed := false
	if g.List != "" {
		if out, ok := formats.InjectPrunableList(a, body, g.List); ok {
			body, changed = out, true
		}
	}
	if g.Nudge != "" {
		if out, ok := a.InjectSynth(body, g.Nudge); ok {
			body, changed = out, true
		}
	}
	return body, changed
}
