package prune

import (
	"testing"

	"github.com/router-for-me/prunepilot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryOf(parts ...session.Part) *ToolRegistry {
	reg := NewToolRegistry(0)
	reg.Sync([]session.Message{msg("m1", "assistant", parts...)})
	return reg
}

func TestDetectDuplicates_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		parts      []session.Part
		unpruned   []string
		protected  []string
		candidates []string
		groups     int
	}{
		{
			name: "simple duplicate",
			parts: []session.Part{
				toolPart("t1", "read", session.StatusCompleted, map[string]any{"file": "a.ts"}),
				toolPart("t2", "read", session.StatusCompleted, map[string]any{"file": "a.ts"}),
				toolPart("t3", "write", session.StatusCompleted, map[string]any{"file": "b.ts"}),
			},
			unpruned:   []string{"t1", "t2", "t3"},
			candidates: []string{"t1"},
			groups:     1,
		},
		{
			name: "protected tool excluded",
			parts: []session.Part{
				toolPart("t1", "read", session.StatusCompleted, map[string]any{"file": "a.ts"}),
				toolPart("t2", "todowrite", session.StatusCompleted, map[string]any{"file": "a.ts"}),
				toolPart("t3", "write", session.StatusCompleted, map[string]any{"file": "a.ts"}),
			},
			unpruned:  []string{"t1", "t2", "t3"},
			protected: []string{"TodoWrite"},
		},
		{
			name: "three identical calls keep the last",
			parts: []session.Part{
				toolPart("A", "grep", session.StatusCompleted, map[string]any{"pattern": "x", "path": "src", "glob": nil}),
				toolPart("B", "grep", session.StatusCompleted, map[string]any{"path": "src", "pattern": "x"}),
				toolPart("C", "grep", session.StatusCompleted, map[string]any{"pattern": "x", "path": "src"}),
			},
			unpruned:   []string{"C", "A", "B"},
			candidates: []string{"A", "B"},
			groups:     1,
		},
		{
			name: "already pruned ids are not grouped",
			parts: []session.Part{
				toolPart("t1", "read", session.StatusCompleted, map[string]any{"file": "a.ts"}),
				toolPart("t2", "read", session.StatusCompleted, map[string]any{"file": "a.ts"}),
			},
			unpruned: []string{"t2"},
		},
		{
			name: "nested objects compare by value",
			parts: []session.Part{
				toolPart("t1", "edit", session.StatusCompleted, map[string]any{"opts": map[string]any{"b": 1.0, "a": []any{"x", "y"}}}),
				toolPart("t2", "edit", session.StatusCompleted, map[string]any{"opts": map[string]any{"a": []any{"x", "y"}, "b": 1.0}}),
				toolPart("t3", "edit", session.StatusCompleted, map[string]any{"opts": map[string]any{"a": []any{"y", "x"}, "b": 1.0}}),
			},
			unpruned:   []string{"t1", "t2", "t3"},
			candidates: []string{"t1"},
			groups:     1,
		},
		{
			name:     "unknown ids are ignored",
			parts:    []session.Part{toolPart("t1", "read", session.StatusCompleted, nil)},
			unpruned: []string{"t1", "ghost", "ghost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registryOf(tt.parts...)
			res := DetectDuplicates(reg, tt.unpruned, NewProtected(tt.protected))
			assert.Equal(t, tt.candidates, res.Candidates)
			assert.Len(t, res.Groups, tt.groups)
		})
	}
}

func TestDetectDuplicates_GroupDetails(t *testing.T) {
	reg := registryOf(
		toolPart("r1", "read", session.StatusCompleted, map[string]any{"filePath": "/repo/internal/app/main.go"}),
		toolPart("r2", "read", session.StatusCompleted, map[string]any{"filePath": "/repo/internal/app/main.go"}),
		toolPart("r3", "read", session.StatusCompleted, map[string]any{"filePath": "/repo/internal/app/main.go"}),
	)
	res := DetectDuplicates(reg, []string{"r1", "r2", "r3"}, nil)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, "read", g.Tool)
	assert.Equal(t, "/repo/internal/app/main.go", g.Key)
	assert.Equal(t, 3, g.Count())
	assert.Equal(t, []string{"r1", "r2", "r3"}, g.IDs)
	assert.Equal(t, `read::{"filePath":"/repo/internal/app/main.go"}`, g.Signature)
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"sorted keys", map[string]any{"b": 1.0, "a": "x"}, `{"a":"x","b":1}`},
		{"drops nulls deeply", map[string]any{"a": map[string]any{"z": nil, "y": true}}, `{"a":{"y":true}}`},
		{"keeps array order and null items", []any{"b", nil, "a"}, `["b",null,"a"]`},
		{"no html escaping", map[string]any{"cmd": "a && b <c>"}, `{"cmd":"a && b <c>"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalJSON(tt.in))
		})
	}
}

func TestPrimaryKeyAndShorten(t *testing.T) {
	assert.Equal(t, "src/a.ts", PrimaryKey(map[string]any{"filePath": "src/a.ts", "limit": 10.0}))
	assert.Equal(t, "go test ./...", PrimaryKey(map[string]any{"command": "go test ./...", "timeout": 5.0}))
	assert.Equal(t, "42", PrimaryKey(map[string]any{"only": 42.0}))
	assert.Equal(t, "", PrimaryKey(map[string]any{"x": 1.0, "y": 2.0}))
	assert.Equal(t, "", PrimaryKey("raw"))

	assert.Equal(t, "short", ShortenKey("short", 20))
	assert.Equal(t, ".../app/main.go", ShortenKey("/very/long/repo/internal/app/main.go", 16))
	assert.Equal(t, "echo hello w...", ShortenKey("echo hello world and more", 15))
}
