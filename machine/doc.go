// Package machine runs state-machine sessions over monitoring setups.
//
// A Session owns one setup's automation: it enters the initial state, applies
// that state's instrument settings, then ticks once per interval evaluating
// the outgoing transitions of the current state. The Engine is the registry
// of active sessions, one per setup at most.
package machine
