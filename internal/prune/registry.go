// Package prune holds the per-session bookkeeping of the pruning engine: the
// tool-call registry rebuilt from the host transcript, the numeric id map shown
// to the acting model, the prune set and the cooldown state machine.
package prune

import (
	"strings"

	"github.com/router-for-me/prunepilot/internal/session"
)

// DefaultRegistryCap bounds the number of tool calls tracked per session.
const DefaultRegistryCap = 500

// ToolCallRecord is what the registry knows about one tool invocation.
type ToolCallRecord struct {
	ID           string
	Tool         string
	Params       any
	Status       string
	Error        string
	Turn         int
	ParentCallID string
	Children     []string
	Seq          int
}

// IsBatch reports whether the record aggregates child calls.
func (r ToolCallRecord) IsBatch() bool {
	return len(r.Children) > 0
}

// SyncDelta describes what a Sync call observed for the first time.
type SyncDelta struct {
	// NewCalls are ids inserted by this sync, in transcript order.
	NewCalls []string
	// NewResults are ids that reached completed or error during this sync.
	NewResults []string
	// UserTurns is the number of user messages in the synced transcript.
	UserTurns int
}

// ToolRegistry maps tool-call ids (case-insensitive) to records. It is not safe
// for concurrent use; Session serializes access.
type ToolRegistry struct {
	cap     int
	records map[string]*ToolCallRecord
	order   []string
	seq     int
	// evicted remembers ids dropped by the cap so a re-sync of the same
	// transcript does not report them as new.
	evicted map[string]struct{}
}

func NewToolRegistry(capacity int) *ToolRegistry {
	if capacity <= 0 {
		capacity = DefaultRegistryCap
	}
	return &ToolRegistry{
		cap:     capacity,
		records: make(map[string]*ToolCallRecord),
		evicted: make(map[string]struct{}),
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func statusRank(status string) int {
	switch status {
	case session.StatusPending:
		return 0
	case session.StatusRunning:
		return 1
	case session.StatusCompleted, session.StatusError:
		return 2
	default:
		return -1
	}
}

func isTerminal(status string) bool {
	return status == session.StatusCompleted || status == session.StatusError
}

// validToolPart reports whether part carries enough to be registered.
func validToolPart(part session.Part) bool {
	if part.Type != session.PartTool || part.State == nil {
		return false
	}
	if strings.TrimSpace(part.CallID) == "" || strings.TrimSpace(part.Tool) == "" {
		return false
	}
	return statusRank(part.State.Status) >= 0
}

// Sync walks the transcript and registers every tool part it has not seen.
// Identity fields of a known id are never overwritten; only forward status
// transitions (pending -> running -> completed|error) are applied. Malformed
// parts are skipped.
func (r *ToolRegistry) Sync(msgs []session.Message) SyncDelta {
	var delta SyncDelta
	turn := 0
	for _, msg := range msgs {
		if strings.EqualFold(msg.Info.Role, "user") {
			delta.UserTurns++
		}
		for _, part := range msg.Parts {
			if part.Type == session.PartStepStart {
				turn++
				continue
			}
			if !validToolPart(part) {
				continue
			}
			key := normalizeID(part.CallID)
			if _, gone := r.evicted[key]; gone {
				continue
			}
			if rec, ok := r.records[key]; ok {
				if rec.Status != part.State.Status && statusRank(part.State.Status) > statusRank(rec.Status) {
					rec.Status = part.State.Status
					rec.Error = part.State.Error
					if isTerminal(rec.Status) {
						delta.NewResults = append(delta.NewResults, rec.ID)
					}
				}
				continue
			}
			r.seq++
			rec := &ToolCallRecord{
				ID:           part.CallID,
				Tool:         part.Tool,
				Params:       part.State.Input,
				Status:       part.State.Status,
				Error:        part.State.Error,
				Turn:         turn,
				ParentCallID: part.ParentCallID,
				Seq:          r.seq,
			}
			r.records[key] = rec
			r.order = append(r.order, key)
			delta.NewCalls = append(delta.NewCalls, rec.ID)
			if isTerminal(rec.Status) {
				delta.NewResults = append(delta.NewResults, rec.ID)
			}
			if rec.ParentCallID != "" {
				if parent, ok := r.records[normalizeID(rec.ParentCallID)]; ok {
					parent.Children = append(parent.Children, rec.ID)
				}
			}
		}
	}
	r.evict()
	return delta
}

func (r *ToolRegistry) evict() {
	for len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.records, oldest)
		r.evicted[oldest] = struct{}{}
	}
}

// Get returns a copy of the record for id.
func (r *ToolRegistry) Get(id string) (ToolCallRecord, bool) {
	rec, ok := r.records[normalizeID(id)]
	if !ok {
		return ToolCallRecord{}, false
	}
	return cloneRecord(rec), true
}

// Has reports whether id is registered.
func (r *ToolRegistry) Has(id string) bool {
	_, ok := r.records[normalizeID(id)]
	return ok
}

// Len returns the number of tracked records.
func (r *ToolRegistry) Len() int {
	return len(r.order)
}

// Ordered returns copies of all records in transcript order.
func (r *ToolRegistry) Ordered() []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, cloneRecord(r.records[key]))
	}
	return out
}

func cloneRecord(rec *ToolCallRecord) ToolCallRecord {
	out := *rec
	if rec.Children != nil {
		out.Children = append([]string(nil), rec.Children...)
	}
	return out
}
