package internal_session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ringbridge/pkg/commons"
)

// State is the session lifecycle position. Speaking flags are tracked
// separately; they are orthogonal to lifecycle.
type State int32

const (
	// StateInitializing: media stream accepted, waiting for the provider
	// start frame and the realtime connection.
	StateInitializing State = iota
	// StateConfiguring: realtime connected, session.update sent, waiting for
	// session.updated.
	StateConfiguring
	// StateReady: both legs up, no caller audio seen yet.
	StateReady
	// StateActive: audio is flowing.
	StateActive
	// StateEnded: terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// Timeout returns how long a session may sit in this state before it is torn
// down. Zero means no limit.
func (s State) Timeout() time.Duration {
	switch s {
	case StateInitializing:
		return 15 * time.Second
	case StateConfiguring:
		return 15 * time.Second
	case StateReady:
		return 60 * time.Second
	}
	return 0
}

var validTransitions = map[State][]State{
	StateInitializing: {StateConfiguring, StateEnded},
	StateConfiguring:  {StateReady, StateConfiguring, StateEnded},
	StateReady:        {StateActive, StateConfiguring, StateEnded},
	StateActive:       {StateConfiguring, StateEnded},
	StateEnded:        {},
}

// stateMachine guards lifecycle transitions. Re-entering StateConfiguring is
// legal from Ready and Active: that is the reconnect path.
type stateMachine struct {
	mu        sync.Mutex
	state     State
	enteredAt time.Time
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateInitializing, enteredAt: time.Now()}
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InState reports the current state and how long it has been held.
func (m *stateMachine) InState() (State, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, time.Since(m.enteredAt)
}

// Transition moves to the target state, failing on an illegal edge. Moving to
// the current state is a no-op except for StateConfiguring, which restarts
// its clock.
func (m *stateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to && to != StateConfiguring {
		return nil
	}
	for _, allowed := range validTransitions[m.state] {
		if allowed == to {
			m.state = to
			m.enteredAt = time.Now()
			return nil
		}
	}
	return commons.NewBridgeError(commons.ErrInvariant,
		fmt.Sprintf("illegal state transition %s -> %s", m.state, to), nil)
}
