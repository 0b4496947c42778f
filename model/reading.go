package model

import "time"

// SignalReading is one sampled value. Value is nil when the sample failed.
type SignalReading struct {
	Value       *float64 `json:"value"`
	RawValue    float64  `json:"raw_value,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// EndStateRecord tags a reading as the terminal record of a session.
type EndStateRecord struct {
	StateID   string `json:"state_id"`
	StateName string `json:"state_name"`
}

// Reading is one collection cycle against a monitoring setup.
type Reading struct {
	ID             string                   `json:"id"`
	Timestamp      time.Time                `json:"timestamp"`
	SetupID        int64                    `json:"setup_id"`
	SetupName      string                   `json:"setup_name,omitempty"`
	InstrumentID   int64                    `json:"instrument_id,omitempty"`
	InstrumentName string                   `json:"instrument_name,omitempty"`
	Mode           string                   `json:"mode,omitempty"`
	Readings       map[string]SignalReading `json:"readings,omitempty"`
	EndState       *EndStateRecord          `json:"end_state,omitempty"`
	Error          string                   `json:"error,omitempty"`
}
