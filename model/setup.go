package model

import (
	"encoding/json"
	"errors"
)

// MonitoringSetup is a user-defined monitoring/automation configuration bound
// to an instrument, carrying the state graph the session engine runs.
// The core loads it read-only and never mutates it.
type MonitoringSetup struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	FrequencyHz  float64 `json:"frequency_hz"`
	InstrumentID int64   `json:"instrument_id"`
	// Parameters are the values supplied when enabling instrument modes
	// during plain monitoring (outside the state machine).
	Parameters map[string]any `json:"parameters"`

	InitialStateID string       `json:"initialStateID"`
	States         []State      `json:"states"`
	Transitions    []Transition `json:"transitions"`
}

// State is a named configuration point in the automation graph.
type State struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsEndState bool   `json:"isEndState"`
	// InstrumentSettings maps an instrument ID (as a decimal string, the way
	// JSON object keys arrive) to the mode selection applied on state entry.
	InstrumentSettings map[string]ModeSelection `json:"instrumentSettings"`
}

// ModeSelection picks an instrument mode by id or name, with parameter values
// for the mode's command templates.
type ModeSelection struct {
	ModeID     string         `json:"modeId,omitempty"`
	ModeName   string         `json:"modeName,omitempty"`
	ModeParams map[string]any `json:"modeParams,omitempty"`
}

// Transition is a directed edge between states guarded by an AND-combined,
// ordered rule list.
type Transition struct {
	ID            string `json:"id"`
	SourceStateID string `json:"sourceStateID"`
	TargetStateID string `json:"targetStateID"`
	Rules         []Rule `json:"rules"`
}

// setupAlias avoids recursing into UnmarshalJSON.
type setupAlias MonitoringSetup

type nestedStateMachine struct {
	States         []State      `json:"states"`
	Transitions    []Transition `json:"transitions"`
	InitialStateID string       `json:"initialStateID"`
}

// UnmarshalJSON accepts either top-level states/transitions/initialStateID or
// a nested stateMachine object, and normalizes absent collections to empty.
func (s *MonitoringSetup) UnmarshalJSON(data []byte) error {
	var alias setupAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var wrapper struct {
		StateMachine *nestedStateMachine `json:"stateMachine"`
	}
	// best-effort; a malformed nested object is simply ignored
	_ = json.Unmarshal(data, &wrapper)

	if sm := wrapper.StateMachine; sm != nil {
		if len(alias.States) == 0 && sm.States != nil {
			alias.States = sm.States
		}
		if len(alias.Transitions) == 0 && sm.Transitions != nil {
			alias.Transitions = sm.Transitions
		}
		if alias.InitialStateID == "" && sm.InitialStateID != "" {
			alias.InitialStateID = sm.InitialStateID
		}
	}

	*s = MonitoringSetup(alias)
	s.Normalize()

	return nil
}

// Normalize ensures the state machine collections exist and each entry has a
// consistent shape.
func (s *MonitoringSetup) Normalize() {
	if s.States == nil {
		s.States = []State{}
	}
	if s.Transitions == nil {
		s.Transitions = []Transition{}
	}

	for i := range s.States {
		if s.States[i].InstrumentSettings == nil {
			s.States[i].InstrumentSettings = map[string]ModeSelection{}
		}
	}
	for i := range s.Transitions {
		if s.Transitions[i].Rules == nil {
			s.Transitions[i].Rules = []Rule{}
		}
	}
}

// StateByID returns the state with the given id, or nil. When ids collide the
// last definition wins.
func (s *MonitoringSetup) StateByID(id string) *State {
	var found *State
	for i := range s.States {
		if s.States[i].ID == id {
			found = &s.States[i]
		}
	}

	return found
}

// OutgoingTransitions returns the transitions whose source is the given state,
// preserving their definition order.
func (s *MonitoringSetup) OutgoingTransitions(stateID string) []Transition {
	var out []Transition
	for _, t := range s.Transitions {
		if t.SourceStateID == stateID {
			out = append(out, t)
		}
	}

	return out
}

// ErrInvalidStateMachine is returned by ValidateStateMachine for payloads
// whose state machine fields have the wrong shape.
var ErrInvalidStateMachine = errors.New("invalid state machine payload")

// ValidateStateMachine performs the light write-time validation applied to
// create/update payloads: collections must be lists and a non-empty graph
// must reference a known initial state. Unresolvable transition endpoints are
// deliberately not rejected; such transitions simply never fire.
func (s *MonitoringSetup) ValidateStateMachine() error {
	if len(s.States) == 0 {
		return nil
	}

	ids := make(map[string]struct{}, len(s.States))
	for _, st := range s.States {
		if st.ID == "" {
			return errors.Join(ErrInvalidStateMachine, errors.New("state without id"))
		}
		ids[st.ID] = struct{}{}
	}

	if s.InitialStateID != "" {
		if _, ok := ids[s.InitialStateID]; !ok {
			return errors.Join(ErrInvalidStateMachine, errors.New("initialStateID references an unknown state"))
		}
	}

	return nil
}
