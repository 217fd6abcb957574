package relay

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a relay session.
type State int

const (
	// StateConnected - strategy created, no target, no audio yet.
	StateConnected State = iota
	// StateTargetSet - a destination cursor has been seeded.
	StateTargetSet
	// StateStreaming - at least one audio frame has been accepted.
	StateStreaming
	// StateDisconnected - terminal.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateTargetSet:
		return "TARGET_SET"
	case StateStreaming:
		return "STREAMING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrTargetNotSet  = errors.New("no target set for session")
)

// Lifecycle tracks a session's state. Thread-safe.
//
//	CONNECTED ──SetTarget──→ TARGET_SET ──Audio──→ STREAMING
//	    │                                             ↑
//	    └─────────────────────Audio───────────────────┘
//
// SetTarget may be called again from TARGET_SET or STREAMING; it does not
// move a streaming session back. Any state can Close to DISCONNECTED.
type Lifecycle struct {
	mu        sync.RWMutex
	state     State
	targetSet bool
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnected}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// HasTarget reports whether a target was ever set successfully.
func (l *Lifecycle) HasTarget() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targetSet
}

// Check returns ErrSessionClosed once the session is disconnected.
func (l *Lifecycle) Check() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == StateDisconnected {
		return ErrSessionClosed
	}
	return nil
}

// TargetSet records a successful setTarget.
func (l *Lifecycle) TargetSet() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected {
		return ErrSessionClosed
	}
	l.targetSet = true
	if l.state == StateConnected {
		l.state = StateTargetSet
	}
	return nil
}

// Audio records an accepted audio frame.
func (l *Lifecycle) Audio() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected {
		return ErrSessionClosed
	}
	l.state = StateStreaming
	return nil
}

// Close moves to DISCONNECTED. Returns false if already there.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected {
		return false
	}
	l.state = StateDisconnected
	return true
}
