package agent

import "fmt"

// Phase is a state of the per-turn machine:
//
//	idle → planning → (tool_call → tool_wait)* → generating → done
//
// error is an orthogonal terminal reachable from any state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseToolCall   Phase = "tool_call"
	PhaseToolWait   Phase = "tool_wait"
	PhaseGenerating Phase = "generating"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Terminal reports whether the phase ends the turn.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhasePlanning},
	PhasePlanning:   {PhaseToolCall, PhaseGenerating},
	PhaseToolCall:   {PhaseToolWait},
	PhaseToolWait:   {PhaseToolCall, PhasePlanning, PhaseGenerating},
	PhaseGenerating: {PhaseDone},
	PhaseDone:       nil,
	PhaseError:      nil,
}

// CanTransition reports whether from→to is a legal move. Any non-terminal
// state may move to error.
func CanTransition(from, to Phase) bool {
	if to == PhaseError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// turnState tracks FSM progress for a single turn.
type turnState struct {
	phase     Phase
	iteration int
	toolsUsed []string
	content   []byte
}

func newTurnState() *turnState {
	return &turnState{phase: PhaseIdle}
}

// advance moves to the next phase, panicking on an illegal transition. The
// runner owns every call site, so a bad transition is a programming error.
func (s *turnState) advance(to Phase) {
	if !CanTransition(s.phase, to) {
		panic(fmt.Sprintf("illegal agent transition %s -> %s", s.phase, to))
	}
	s.phase = to
}
