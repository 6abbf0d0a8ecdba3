package pipeline

import (
	"errors"
	"fmt"
)

// State is a step of one synchronization run.
type State string

const (
	StateIdle             State = "idle"
	StateLocating         State = "locating"
	StateExtracting       State = "extracting"
	StateDiffing          State = "diffing"
	StateCommitting       State = "committing"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateSkippedDuplicate State = "skipped_duplicate"
)

// ErrIllegalTransition marks a programming error in the run sequence.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateIdle:       {StateLocating},
	StateLocating:   {StateExtracting, StateDone, StateSkippedDuplicate, StateFailed},
	StateExtracting: {StateDiffing, StateFailed},
	StateDiffing:    {StateCommitting, StateDone, StateFailed},
	StateCommitting: {StateDone, StateFailed},
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkippedDuplicate
}

type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, trail: []State{StateIdle}}
}

func (m *machine) advance(to State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			m.trail = append(m.trail, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
}
