package machine

import "sync/atomic"

// RunState is the lifecycle phase of a session.
type RunState uint32

const (
	IdleState RunState = iota
	RunningState
	StoppedState
)

// AtomicRunState holds a RunState with atomic transitions so the tick loop
// and stop callers never race on lifecycle checks.
type AtomicRunState struct {
	state atomic.Uint32
}

func (st *AtomicRunState) String() string {
	switch st.Get() {
	case IdleState:
		return "Idle"
	case RunningState:
		return "Running"
	case StoppedState:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Get returns the current state.
func (st *AtomicRunState) Get() RunState {
	return RunState(st.state.Load())
}

func (st *AtomicRunState) IsIdle() bool {
	return st.Get() == IdleState
}

func (st *AtomicRunState) IsRunning() bool {
	return st.Get() == RunningState
}

func (st *AtomicRunState) IsStopped() bool {
	return st.Get() == StoppedState
}

// ToRunning transitions Idle to Running. Returns false if the session has
// already started or stopped.
func (st *AtomicRunState) ToRunning() bool {
	return st.state.CompareAndSwap(uint32(IdleState), uint32(RunningState))
}

// ToStopped transitions Running to Stopped. Returns false when not running,
// which makes stop idempotent for callers that check the result.
func (st *AtomicRunState) ToStopped() bool {
	return st.state.CompareAndSwap(uint32(RunningState), uint32(StoppedState))
}
