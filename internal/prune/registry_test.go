package prune

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/router-for-me/prunepilot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolPart(id, tool, status string, input map[string]any) session.Part {
	var in any
	if input != nil {
		in = input
	}
	return session.Part{
		Type:   session.PartTool,
		CallID: id,
		Tool:   tool,
		State:  &session.ToolState{Status: status, Input: in},
	}
}

func msg(id, role string, parts ...session.Part) session.Message {
	return session.Message{Info: session.MessageInfo{ID: id, Role: role}, Parts: parts}
}

func stepStart() session.Part { return session.Part{Type: session.PartStepStart} }

func TestToolRegistry_SyncIsIdempotent(t *testing.T) {
	transcript := []session.Message{
		msg("m1", "user", session.Part{Type: session.PartText, Text: "hi"}),
		msg("m2", "assistant",
			stepStart(),
			toolPart("call_1", "read", session.StatusCompleted, map[string]any{"filePath": "a.ts"}),
			stepStart(),
			toolPart("call_2", "bash", session.StatusError, map[string]any{"command": "make"}),
		),
	}

	once := NewToolRegistry(0)
	once.Sync(transcript)

	twice := NewToolRegistry(0)
	twice.Sync(transcript)
	delta := twice.Sync(transcript)

	assert.Empty(t, delta.NewCalls)
	assert.Empty(t, delta.NewResults)
	if diff := cmp.Diff(once.Ordered(), twice.Ordered()); diff != "" {
		t.Fatalf("registry differs after second sync (-once +twice):\n%s", diff)
	}

	rec, ok := once.Get("CALL_2")
	require.True(t, ok)
	assert.Equal(t, "bash", rec.Tool)
	assert.Equal(t, 2, rec.Turn)
}

func TestToolRegistry_StatusMovesForwardOnly(t *testing.T) {
	reg := NewToolRegistry(0)

	delta := reg.Sync([]session.Message{msg("m1", "assistant", toolPart("c1", "read", session.StatusRunning, map[string]any{"path": "x"}))})
	assert.Equal(t, []string{"c1"}, delta.NewCalls)
	assert.Empty(t, delta.NewResults)

	delta = reg.Sync([]session.Message{msg("m1", "assistant", toolPart("c1", "other-name", session.StatusCompleted, map[string]any{"path": "y"}))})
	assert.Empty(t, delta.NewCalls)
	assert.Equal(t, []string{"c1"}, delta.NewResults)

	rec, _ := reg.Get("c1")
	assert.Equal(t, session.StatusCompleted, rec.Status)
	assert.Equal(t, "read", rec.Tool, "identity fields are never overwritten")
	assert.Equal(t, map[string]any{"path": "x"}, rec.Params)

	reg.Sync([]session.Message{msg("m1", "assistant", toolPart("c1", "read", session.StatusPending, nil))})
	rec, _ = reg.Get("c1")
	assert.Equal(t, session.StatusCompleted, rec.Status)
}

func TestToolRegistry_SkipsMalformedParts(t *testing.T) {
	reg := NewToolRegistry(0)
	reg.Sync([]session.Message{msg("m1", "assistant",
		session.Part{Type: session.PartTool, CallID: "no-state", Tool: "read"},
		session.Part{Type: session.PartTool, Tool: "read", State: &session.ToolState{Status: session.StatusCompleted}},
		session.Part{Type: session.PartTool, CallID: "no-tool", State: &session.ToolState{Status: session.StatusCompleted}},
		toolPart("bad-status", "read", "exploded", nil),
		toolPart("ok", "read", session.StatusCompleted, nil),
	)})
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Has("OK"))
}

func TestToolRegistry_EvictsOldestFirst(t *testing.T) {
	reg := NewToolRegistry(3)
	var parts []session.Part
	for i := 1; i <= 5; i++ {
		parts = append(parts, toolPart(fmt.Sprintf("c%d", i), "read", session.StatusCompleted, nil))
	}
	reg.Sync([]session.Message{msg("m1", "assistant", parts...)})

	assert.Equal(t, 3, reg.Len())
	assert.False(t, reg.Has("c1"))
	assert.False(t, reg.Has("c2"))
	var ids []string
	for _, r := range reg.Ordered() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c3", "c4", "c5"}, ids)
}

func TestToolRegistry_ResyncPastCapReportsNothingNew(t *testing.T) {
	reg := NewToolRegistry(2)
	transcript := []session.Message{msg("m1", "assistant",
		toolPart("r1", "read", session.StatusCompleted, nil),
		toolPart("r2", "read", session.StatusCompleted, nil),
		toolPart("r3", "read", session.StatusCompleted, nil),
	)}

	delta := reg.Sync(transcript)
	assert.Equal(t, []string{"r1", "r2", "r3"}, delta.NewCalls)
	before := reg.Ordered()

	for i := 0; i < 3; i++ {
		delta = reg.Sync(transcript)
		assert.Empty(t, delta.NewCalls, "resync %d", i)
		assert.Empty(t, delta.NewResults, "resync %d", i)
	}
	if diff := cmp.Diff(before, reg.Ordered()); diff != "" {
		t.Fatalf("registry changed on resync (-before +after):\n%s", diff)
	}
	assert.False(t, reg.Has("r1"))

	transcript = append(transcript, msg("m2", "assistant", toolPart("r4", "read", session.StatusRunning, nil)))
	delta = reg.Sync(transcript)
	assert.Equal(t, []string{"r4"}, delta.NewCalls)
}

func TestToolRegistry_BatchChildren(t *testing.T) {
	child := func(id string) session.Part {
		p := toolPart(id, "read", session.StatusCompleted, map[string]any{"filePath": id})
		p.ParentCallID = "batch_1"
		return p
	}
	reg := NewToolRegistry(0)
	reg.Sync([]session.Message{msg("m1", "assistant",
		toolPart("batch_1", "batch", session.StatusCompleted, nil),
		child("c1"),
		child("c2"),
	)})
	reg.Sync([]session.Message{msg("m1", "assistant",
		toolPart("batch_1", "batch", session.StatusCompleted, nil),
		child("c1"),
		child("c2"),
	)})

	rec, ok := reg.Get("batch_1")
	require.True(t, ok)
	assert.True(t, rec.IsBatch())
	assert.Equal(t, []string{"c1", "c2"}, rec.Children)
}

func TestIDMap_Stability(t *testing.T) {
	m := NewIDMap()
	a := m.GetOrCreate("call_A")
	for i := 0; i < 5; i++ {
		assert.Equal(t, a, m.GetOrCreate("call_A"))
	}
	assert.Equal(t, a, m.GetOrCreate("CALL_a"), "ids are case-insensitive")
	b := m.GetOrCreate("call_B")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	id, ok := m.Resolve(b)
	require.True(t, ok)
	assert.Equal(t, "call_B", id)

	_, ok = m.Resolve(0)
	assert.False(t, ok)
	_, ok = m.Resolve(99)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())
}
