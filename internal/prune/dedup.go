package prune

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// RecordLookup is the read side of the registry used by pure passes.
type RecordLookup interface {
	Get(id string) (ToolCallRecord, bool)
}

// Protected is a case-insensitive set of tool names that are never pruned.
type Protected map[string]struct{}

func NewProtected(names []string) Protected {
	p := make(Protected, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			p[n] = struct{}{}
		}
	}
	return p
}

// Has reports whether tool is protected.
func (p Protected) Has(tool string) bool {
	if p == nil {
		return false
	}
	_, ok := p[strings.ToLower(strings.TrimSpace(tool))]
	return ok
}

// DuplicateGroup lists the ids sharing one signature, oldest first.
type DuplicateGroup struct {
	Signature string
	Tool      string
	Key       string
	IDs       []string
}

// Count is the number of calls in the group.
func (g DuplicateGroup) Count() int { return len(g.IDs) }

// DedupResult is the output of DetectDuplicates.
type DedupResult struct {
	Candidates []string
	Groups     []DuplicateGroup
}

// DetectDuplicates groups unpruned, non-protected calls by tool name plus
// canonical parameters and proposes every member except the most recent one.
// It is deterministic and has no side effects.
func DetectDuplicates(reg RecordLookup, unprunedIDs []string, protected Protected) DedupResult {
	type member struct {
		rec ToolCallRecord
	}
	bySig := make(map[string][]member)
	var sigOrder []string

	records := make([]ToolCallRecord, 0, len(unprunedIDs))
	seen := make(map[string]struct{}, len(unprunedIDs))
	for _, id := range unprunedIDs {
		rec, ok := reg.Get(id)
		if !ok {
			continue
		}
		if _, dup := seen[normalizeID(rec.ID)]; dup {
			continue
		}
		seen[normalizeID(rec.ID)] = struct{}{}
		if protected.Has(rec.Tool) {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	for _, rec := range records {
		sig := Signature(rec.Tool, rec.Params)
		if _, ok := bySig[sig]; !ok {
			sigOrder = append(sigOrder, sig)
		}
		bySig[sig] = append(bySig[sig], member{rec: rec})
	}

	var res DedupResult
	for _, sig := range sigOrder {
		members := bySig[sig]
		if len(members) < 2 {
			continue
		}
		group := DuplicateGroup{
			Signature: sig,
			Tool:      members[0].rec.Tool,
			Key:       PrimaryKey(members[0].rec.Params),
		}
		for i, m := range members {
			group.IDs = append(group.IDs, m.rec.ID)
			if i < len(members)-1 {
				res.Candidates = append(res.Candidates, m.rec.ID)
			}
		}
		res.Groups = append(res.Groups, group)
	}
	return res
}

// Signature is the tool name joined with the canonical JSON of params.
func Signature(tool string, params any) string {
	return tool + "::" + CanonicalJSON(params)
}

// CanonicalJSON encodes v with null-valued keys dropped and object keys sorted
// at every depth. Array order is preserved.
func CanonicalJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalize(v)); err != nil {
		return "null"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = canonicalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalize(val)
		}
		return out
	default:
		return v
	}
}
