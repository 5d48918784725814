package server

import (
	"sync"
)

// StateKind enumerates the server's lifecycle states
type StateKind string

const (
	// StateIdle means requests are served normally
	StateIdle StateKind = "idle"

	// StateBusy means a build is in progress; requests get a busy
	// notice and nothing else happens
	StateBusy StateKind = "busy"

	// StateError holds a failure message until the next request
	// observes it, then reverts to idle
	StateError StateKind = "error"
)

// State is the server's current lifecycle value
type State struct {
	Kind StateKind

	// Reason describes the busy phase ("installing builders", "building")
	Reason string

	// Message carries the error text while Kind is StateError
	Message string
}

// stateMachine owns the state value. All transitions go through its
// methods; nothing reads or writes the state directly.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		state: State{Kind: StateBusy, Reason: "starting"},
	}
}

func (sm *stateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

func (sm *stateMachine) SetBusy(reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = State{Kind: StateBusy, Reason: reason}
}

func (sm *stateMachine) SetIdle() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = State{Kind: StateIdle}
}

func (sm *stateMachine) SetError(message string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = State{Kind: StateError, Message: message}
}

// TakeError reports a pending error exactly once. If the state is
// Error it reverts to Idle and returns the stored message, so a single
// failure never blocks subsequent requests.
func (sm *stateMachine) TakeError() (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state.Kind != StateError {
		return "", false
	}

	msg := sm.state.Message
	sm.state = State{Kind: StateIdle}
	return msg, true
}
