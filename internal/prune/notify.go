package prune

import (
	"fmt"
	"sort"
	"strings"
)

// Placeholder replaces the content of every pruned tool output. It is fixed so
// token accounting and later passes can recognise already-pruned content.
const Placeholder = "[Output removed to save context - information superseded or no longer needed]"

// Notification modes.
const (
	NotifyOff      = "off"
	NotifyMinimal  = "minimal"
	NotifyDetailed = "detailed"
)

const (
	maxItemsPerGroup = 5
	maxKeyLen        = 60
)

// PrunedItem describes one pruned call for reporting.
type PrunedItem struct {
	Tool string
	Key  string
}

// Report is what a pruning action produced, ready to be rendered for the user.
type Report struct {
	Items     []PrunedItem
	Tokens    int
	Reasoning string
	Strategy  string
}

// BuildNotification renders r for mode. It returns "" for the off mode or an
// empty report.
func BuildNotification(mode string, r Report) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == NotifyOff || len(r.Items) == 0 {
		return ""
	}
	noun := "tool outputs"
	if len(r.Items) == 1 {
		noun = "tool output"
	}
	head := fmt.Sprintf("Pruned %d %s (~%s tokens saved)", len(r.Items), noun, formatTokens(r.Tokens))
	if r.Strategy != "" {
		head += " via " + r.Strategy
	}
	if mode != NotifyDetailed {
		return head
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(":")

	groups := make(map[string][]string)
	var tools []string
	for _, it := range r.Items {
		if _, ok := groups[it.Tool]; !ok {
			tools = append(tools, it.Tool)
		}
		groups[it.Tool] = append(groups[it.Tool], it.Key)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		keys := groups[tool]
		var shown []string
		for _, k := range keys {
			if k == "" {
				continue
			}
			if len(shown) == maxItemsPerGroup {
				break
			}
			shown = append(shown, ShortenKey(k, maxKeyLen))
		}
		fmt.Fprintf(&b, "\n- %s (%d)", tool, len(keys))
		if len(shown) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(shown, ", "))
		}
		withKey := 0
		for _, k := range keys {
			if k != "" {
				withKey++
			}
		}
		if extra := withKey - len(shown); extra > 0 {
			fmt.Fprintf(&b, " +%d more", extra)
		}
	}
	if reason := strings.TrimSpace(r.Reasoning); reason != "" {
		b.WriteString("\nReason: ")
		b.WriteString(reason)
	}
	return b.String()
}

func formatTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprint(n)
}
