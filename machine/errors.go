package machine

import "errors"

var (
	// ErrSessionAlreadyStarted indicates Start was called on a session that
	// already ran. Sessions are single-use.
	ErrSessionAlreadyStarted = errors.New("session already started")
	// ErrNoStates indicates the setup defines no states to run.
	ErrNoStates = errors.New("setup has no states")
	// ErrInvalidInitialState indicates initialStateID is missing or names an
	// unknown state.
	ErrInvalidInitialState = errors.New("setup has no valid initial state")
)
