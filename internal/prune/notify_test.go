package prune

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildNotification(t *testing.T) {
	var many []PrunedItem
	for i := 1; i <= 7; i++ {
		many = append(many, PrunedItem{Tool: "read", Key: fmt.Sprintf("f%d.go", i)})
	}
	many = append(many, PrunedItem{Tool: "bash", Key: "go test ./..."})

	tests := []struct {
		name string
		mode string
		r    Report
		want string
	}{
		{"off", NotifyOff, Report{Items: many, Tokens: 10}, ""},
		{"empty", NotifyDetailed, Report{}, ""},
		{"minimal single", NotifyMinimal, Report{Items: many[:1], Tokens: 42}, "Pruned 1 tool output (~42 tokens saved)"},
		{"minimal with strategy", "MINIMAL", Report{Items: many, Tokens: 12500, Strategy: "deduplication"}, "Pruned 8 tool outputs (~12.5k tokens saved) via deduplication"},
		{
			"detailed groups",
			NotifyDetailed,
			Report{Items: many, Tokens: 900, Reasoning: "files were rewritten"},
			"Pruned 8 tool outputs (~900 tokens saved):\n" +
				"- bash (1): go test ./...\n" +
				"- read (7): f1.go, f2.go, f3.go, f4.go, f5.go +2 more\n" +
				"Reason: files were rewritten",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildNotification(tt.mode, tt.r))
		})
	}
}

func TestTurnState(t *testing.T) {
	var ts TurnState
	assert.Equal(t, "NORMAL", ts.Phase.String())

	ts.Observe(0, 4)
	assert.Equal(t, 4, ts.SinceLastPrune)

	ts.MarkPruned()
	assert.Equal(t, "JUST_PRUNED", ts.Phase.String())
	assert.Equal(t, 0, ts.SinceLastPrune)

	ts.Observe(0, 2)
	assert.Equal(t, PhaseJustPruned, ts.Phase, "results alone do not end cooldown")
	ts.Observe(1, 0)
	assert.Equal(t, PhaseNormal, ts.Phase)
	assert.True(t, ts.NudgeDue(2))
}
