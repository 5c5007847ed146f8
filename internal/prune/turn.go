package prune

// Phase is the cooldown state of a session.
type Phase int

const (
	PhaseNormal Phase = iota
	PhaseJustPruned
)

func (p Phase) String() string {
	switch p {
	case PhaseJustPruned:
		return "JUST_PRUNED"
	default:
		return "NORMAL"
	}
}

// DefaultNudgeFrequency is the number of tool results after which a nudge is due.
const DefaultNudgeFrequency = 10

// TurnState drives which guidance the interception layer injects.
//
// NORMAL -> JUST_PRUNED on any completed prune. JUST_PRUNED -> NORMAL when a
// new, non-protected tool call shows up in the transcript. The nudge counter
// runs independently and is cleared only by a prune.
type TurnState struct {
	Phase          Phase
	SinceLastPrune int
}

// MarkPruned enters cooldown and clears the nudge counter.
func (t *TurnState) MarkPruned() {
	t.Phase = PhaseJustPruned
	t.SinceLastPrune = 0
}

// Observe applies the tool activity found by a registry sync.
func (t *TurnState) Observe(newCalls, newResults int) {
	if newCalls > 0 && t.Phase == PhaseJustPruned {
		t.Phase = PhaseNormal
	}
	if newResults > 0 {
		t.SinceLastPrune += newResults
	}
}

// NudgeDue reports whether enough results accumulated since the last prune.
func (t TurnState) NudgeDue(frequency int) bool {
	return frequency > 0 && t.SinceLastPrune >= frequency
}
