package tg

import (
	"sync"
	"time"
)

// FlowState is the per-user withdraw conversation state.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitAddress
	StateAwaitAmount
)

// withdrawStateTTL bounds how long a half-finished withdraw conversation is
// kept before falling back to idle.
const withdrawStateTTL = 10 * time.Minute

type withdrawState struct {
	state   FlowState
	address string
	expires time.Time
}

// StateManager tracks the short-lived withdraw state machine per user.
// The state is ephemeral by design: it never touches the durable store and
// expires back to idle on its own.
type StateManager struct {
	mu     sync.Mutex
	states map[int64]*withdrawState
	ttl    time.Duration
	now    func() time.Time
}

// NewStateManager creates a state manager with the default TTL.
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]*withdrawState),
		ttl:    withdrawStateTTL,
		now:    time.Now,
	}
}

// Get returns the user's current state, expiring stale entries to idle.
func (sm *StateManager) Get(userID int64) (FlowState, string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.states[userID]
	if !ok {
		return StateIdle, ""
	}
	if sm.now().After(st.expires) {
		delete(sm.states, userID)
		return StateIdle, ""
	}
	return st.state, st.address
}

// Set moves the user to the given state.
func (sm *StateManager) Set(userID int64, state FlowState, address string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if state == StateIdle {
		delete(sm.states, userID)
		return
	}
	sm.states[userID] = &withdrawState{
		state:   state,
		address: address,
		expires: sm.now().Add(sm.ttl),
	}
}

// Clear resets the user to idle.
func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, userID)
}
