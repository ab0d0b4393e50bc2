// Package fsm implements the Task lifecycle state machine: a task moves
// from unplanned through scheduled and committed to a terminal executed or
// rejected state. Transitions outside the table are refused.
package fsm

import (
	"fmt"
	"sync"
)

// State is a Task lifecycle state.
type State string

// Event drives a state transition.
type Event string

const (
	StateUnplanned State = "unplanned"
	StateScheduled State = "scheduled"
	StateCommitted State = "committed"
	StateExecuted  State = "executed"
	StateRejected  State = "rejected"
)

const (
	EventPlan    Event = "PLAN"    // phase1/phase2 produced a tentative assignment
	EventCommit  Event = "COMMIT"  // solver accepted the assignment into the candidate schedule
	EventValidate Event = "VALIDATE" // retimer replay passed
	EventReject  Event = "REJECT"  // retimer replay found a conflict
)

// FSM is a transition-table state machine for one Task's TargetID (its
// BatchID/StageIdx pair, formatted by the caller).
type FSM struct {
	Current State
	mu      sync.Mutex

	transitions map[State]map[Event]State
	callbacks   map[State]func(targetID string)
	TargetID    string
}

func New(targetID string) *FSM {
	f := &FSM{
		Current:     StateUnplanned,
		TargetID:    targetID,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]func(string)),
	}
	f.initTransitions()
	return f
}

func (f *FSM) initTransitions() {
	f.addTransition(StateUnplanned, EventPlan, StateScheduled)
	f.addTransition(StateScheduled, EventCommit, StateCommitted)
	f.addTransition(StateScheduled, EventReject, StateRejected)
	f.addTransition(StateCommitted, EventValidate, StateExecuted)
	f.addTransition(StateCommitted, EventReject, StateRejected)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// RegisterCallback registers a hook fired after entering a state.
func (f *FSM) RegisterCallback(state State, callback func(targetID string)) {
	f.callbacks[state] = callback
}

// Fire applies event to the current state, returning an error if the
// transition is not in the table.
func (f *FSM) Fire(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next, ok := f.transitions[f.Current][event]
	if !ok {
		return fmt.Errorf("invalid transition: cannot fire %s from %s", event, f.Current)
	}
	f.Current = next

	if cb, exists := f.callbacks[next]; exists {
		cb(f.TargetID)
	}
	return nil
}
