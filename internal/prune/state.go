package prune

import (
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/prunepilot/internal/formats"
	"github.com/router-for-me/prunepilot/internal/metrics"
	"github.com/router-for-me/prunepilot/internal/persist"
	"github.com/router-for-me/prunepilot/internal/session"
	log "github.com/sirupsen/logrus"
)

// SyncResult is what Session.Sync observed.
type SyncResult struct {
	Delta SyncDelta
	// Reset is true when a host compaction cleared the session state.
	Reset bool
}

// Session is the pruning state of one conversation. All methods are safe for
// concurrent use; prune-set mutations are set unions so racing passes only
// repeat work.
type Session struct {
	ID string

	mu          sync.Mutex
	loadOnce    sync.Once
	registry    *ToolRegistry
	ids         *IDMap
	positions   *formats.PositionIndex
	finished    []formats.PositionEntry
	pruned      map[string]struct{}
	prunedList  []string
	messages    map[string]struct{}
	msgList     []string
	stats       persist.Stats
	turn        TurnState
	compaction  string
	userTurns   int
	synced      bool
	protected   Protected
	registryCap int

	save func(persist.Snapshot)
}

func newSession(id string, registryCap int, protected Protected, save func(persist.Snapshot)) *Session {
	s := &Session{ID: id, registryCap: registryCap, protected: protected, save: save}
	s.clear()
	return s
}

func (s *Session) clear() {
	s.registry = NewToolRegistry(s.registryCap)
	s.ids = NewIDMap()
	s.positions = formats.NewPositionIndex()
	s.finished = nil
	s.pruned = make(map[string]struct{})
	s.prunedList = nil
	s.messages = make(map[string]struct{})
	s.msgList = nil
	s.turn = TurnState{}
	s.userTurns = 0
	s.synced = false
}

func (s *Session) restore(snap *persist.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range snap.PrunedToolIDs {
		s.addPruned(id)
	}
	for _, id := range snap.PrunedMessageIDs {
		s.addMessage(id)
	}
	s.stats = snap.Stats
	s.compaction = snap.CompactionMarker
}

func (s *Session) addPruned(id string) bool {
	key := normalizeID(id)
	if key == "" {
		return false
	}
	if _, ok := s.pruned[key]; ok {
		return false
	}
	s.pruned[key] = struct{}{}
	s.prunedList = append(s.prunedList, id)
	return true
}

func (s *Session) addMessage(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.messages[id]; ok {
		return false
	}
	s.messages[id] = struct{}{}
	s.msgList = append(s.msgList, id)
	return true
}

// Sync folds the transcript into the registry, the position index and the
// turn state. A new compaction marker resets everything but lifetime stats.
func (s *Session) Sync(msgs []session.Message) SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SyncResult
	if marker := session.LatestCompaction(msgs); marker != s.compaction {
		log.WithFields(log.Fields{"session": s.ID, "marker": marker}).Info("compaction detected, resetting prune state")
		s.clear()
		s.stats.TokensPrunedThisTurn = 0
		s.compaction = marker
		res.Reset = true
	}

	msgs = session.SinceCompaction(msgs)
	delta := s.registry.Sync(msgs)
	res.Delta = delta

	calls, results := 0, 0
	for _, id := range delta.NewCalls {
		if rec, ok := s.registry.Get(id); ok && !s.protected.Has(rec.Tool) {
			calls++
		}
	}
	for _, id := range delta.NewResults {
		if rec, ok := s.registry.Get(id); ok && !s.protected.Has(rec.Tool) {
			results++
		}
	}
	// The first sync replays history and does not count as new activity.
	if s.synced {
		s.turn.Observe(calls, results)
	}
	if s.synced && delta.UserTurns > s.userTurns {
		s.stats.TokensPrunedThisTurn = 0
	}
	s.userTurns = delta.UserTurns
	s.synced = true

	for _, rec := range s.registry.Ordered() {
		s.ids.GetOrCreate(rec.ID)
	}
	s.finished = resultPositions(msgs)
	s.rebuildPositions()

	if res.Reset {
		s.persist()
	}
	return res
}

// resultPositions lists finished tool parts in document order. It ignores the
// registry cap so occurrence numbers match the request body.
func resultPositions(msgs []session.Message) []formats.PositionEntry {
	var out []formats.PositionEntry
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if validToolPart(part) && isTerminal(part.State.Status) {
				out = append(out, formats.PositionEntry{ID: part.CallID, Tool: part.Tool})
			}
		}
	}
	return out
}

func (s *Session) rebuildPositions() {
	s.positions.Rebuild(s.finished)
}

// Lookup implements formats.Resolver.
func (s *Session) Lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.registry.Get(id)
	if !ok {
		return "", false
	}
	return rec.Tool, true
}

// ResolvePosition implements formats.Resolver. A miss or a tool mismatch
// triggers one rebuild of the index before giving up.
func (s *Session) ResolvePosition(tool string, n int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.checkPosition(tool, n); ok {
		return id, true
	}
	s.rebuildPositions()
	return s.checkPosition(tool, n)
}

func (s *Session) checkPosition(tool string, n int) (string, bool) {
	id, ok := s.positions.Resolve(tool, n)
	if !ok {
		return "", false
	}
	// Calls evicted from the registry still resolve; their prune decision
	// outlives the record.
	if rec, ok := s.registry.Get(id); ok && !strings.EqualFold(rec.Tool, tool) {
		return "", false
	}
	return id, true
}

// IsPruned reports whether id is in the prune set.
func (s *Session) IsPruned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pruned[normalizeID(id)]
	return ok
}

// IsMessagePruned reports whether the transcript message id is hidden.
func (s *Session) IsMessagePruned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok
}

// PrunedIDs returns the prune set in insertion order.
func (s *Session) PrunedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prunedList...)
}

// UnprunedIDs returns registered ids not in the prune set, oldest first.
func (s *Session) UnprunedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.registry.Ordered() {
		if _, ok := s.pruned[normalizeID(rec.ID)]; !ok {
			out = append(out, rec.ID)
		}
	}
	return out
}

// Record returns the registry entry for id.
func (s *Session) Record(id string) (ToolCallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(id)
}

// Get makes Session usable as a RecordLookup.
func (s *Session) Get(id string) (ToolCallRecord, bool) {
	return s.Record(id)
}

// Records returns every tracked call in transcript order.
func (s *Session) Records() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Ordered()
}

// NumericID returns the stable number shown to the acting model for id.
func (s *Session) NumericID(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.GetOrCreate(id)
}

// ResolveNumeric maps a number back to a call id.
func (s *Session) ResolveNumeric(n int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Resolve(n)
}

// PrunableEntry is one line of the list shown to the acting model.
type PrunableEntry struct {
	Number int
	ID     string
	Tool   string
	Key    string
}

// Prunable lists unpruned, non-protected calls that have a result. Children
// of a batch are listed through their parent.
func (s *Session) Prunable() []PrunableEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PrunableEntry
	for _, rec := range s.registry.Ordered() {
		if !isTerminal(rec.Status) || s.protected.Has(rec.Tool) {
			continue
		}
		if _, ok := s.pruned[normalizeID(rec.ID)]; ok {
			continue
		}
		if rec.ParentCallID != "" && s.registry.Has(rec.ParentCallID) {
			continue
		}
		out = append(out, PrunableEntry{
			Number: s.ids.GetOrCreate(rec.ID),
			ID:     rec.ID,
			Tool:   rec.Tool,
			Key:    PrimaryKey(rec.Params),
		})
	}
	return out
}

// Turn returns the cooldown state.
func (s *Session) Turn() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// Stats returns the pruning counters.
func (s *Session) Stats() persist.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Apply adds ids to the prune set. Ids never seen by the registry are
// refused. It returns the ids that were newly added; when any were, the
// session enters cooldown and the snapshot is queued for persistence.
func (s *Session) Apply(ids []string, tokens int, strategy string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, id := range ids {
		rec, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if s.addPruned(rec.ID) {
			added = append(added, rec.ID)
		}
	}
	if len(added) == 0 {
		return nil
	}
	s.stats.TokensPrunedThisTurn += tokens
	s.stats.TotalTokensPruned += tokens
	s.stats.TotalToolsPruned += len(added)
	s.turn.MarkPruned()
	if strategy != "" {
		metrics.ToolCallsPruned.WithLabelValues(strategy).Add(float64(len(added)))
	}
	if tokens > 0 {
		metrics.TokensPruned.Add(float64(tokens))
	}
	s.persist()
	return added
}

// HideMessages adds transcript message ids to the removed-message set.
func (s *Session) HideMessages(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if s.addMessage(id) {
			n++
		}
	}
	if n > 0 {
		s.persist()
	}
	return n
}

// Reset forgets every call and prune decision. The registry is rebuilt by the
// next Sync.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	s.stats.TokensPrunedThisTurn = 0
	s.persist()
}

// Snapshot returns the persistable state.
func (s *Session) Snapshot() persist.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() persist.Snapshot {
	return persist.Snapshot{
		PrunedToolIDs:    append([]string{}, s.prunedList...),
		PrunedMessageIDs: append([]string{}, s.msgList...),
		Stats:            s.stats,
		CompactionMarker: s.compaction,
		LastUpdated:      time.Now().UTC(),
	}
}

func (s *Session) persist() {
	if s.save != nil {
		s.save(s.snapshotLocked())
	}
}
