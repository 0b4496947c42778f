package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Instrument is a registered laboratory instrument.
type Instrument struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Address is the free-form instrument address ("host[:port][/device]").
	Address string `json:"address"`
	// Description is the JSON-encoded capability document, see Capability.
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

// Capability is the parsed form of an instrument's capability document: the
// signals it can measure, the modes it can be switched into, and per-mode
// signal presentation settings.
type Capability struct {
	Signals           []Signal           `json:"signals"`
	Modes             []Mode             `json:"modes"`
	SignalModeConfigs []SignalModeConfig `json:"signalModeConfigs"`
}

// Signal is a named instrument measurement with its query command.
type Signal struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MeasureCommand string `json:"measureCommand"`
}

// Mode is an instrument-defined operating configuration. EnableCommands and
// DisableCommands are multiline command templates with {param} placeholders.
type Mode struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	EnableCommands  string `json:"enableCommands"`
	DisableCommands string `json:"disableCommands"`
}

// SignalModeConfig describes how a signal is presented in a given mode.
type SignalModeConfig struct {
	ModeID        string  `json:"modeId"`
	SignalID      string  `json:"signalId"`
	Unit          string  `json:"unit"`
	ScalingFactor float64 `json:"scalingFactor"`
}

// ParseCapability parses an instrument's JSON capability document. An empty
// description yields an empty capability; a malformed one is an error.
func ParseCapability(description string) (*Capability, error) {
	doc := &Capability{}
	if strings.TrimSpace(description) == "" {
		return doc, nil
	}

	if err := json.Unmarshal([]byte(description), doc); err != nil {
		return nil, fmt.Errorf("parse capability document: %w", err)
	}

	return doc, nil
}

// Capability parses the instrument's description into its capability document.
func (i *Instrument) Capability() (*Capability, error) {
	return ParseCapability(i.Description)
}

// SelectMode resolves a mode by id, then by name, then falls back to the
// first available mode. Returns nil when the capability has no modes.
func (c *Capability) SelectMode(modeID, modeName string) *Mode {
	if len(c.Modes) == 0 {
		return nil
	}

	if modeID != "" {
		for i := range c.Modes {
			if c.Modes[i].ID == modeID {
				return &c.Modes[i]
			}
		}
	}

	if modeName != "" {
		for i := range c.Modes {
			if c.Modes[i].Name == modeName {
				return &c.Modes[i]
			}
		}
	}

	return &c.Modes[0]
}

// SignalByName looks up a signal by its display name.
func (c *Capability) SignalByName(name string) *Signal {
	for i := range c.Signals {
		if c.Signals[i].Name == name {
			return &c.Signals[i]
		}
	}

	return nil
}

// SignalConfig returns the presentation settings for a signal in a mode, or
// nil when none are configured.
func (c *Capability) SignalConfig(modeID, signalID string) *SignalModeConfig {
	for i := range c.SignalModeConfigs {
		if c.SignalModeConfigs[i].ModeID == modeID && c.SignalModeConfigs[i].SignalID == signalID {
			return &c.SignalModeConfigs[i]
		}
	}

	return nil
}

// ExpandCommands expands a multiline command template: blank lines are
// dropped, and {param} placeholders are substituted verbatim from params.
// Substitution is plain string replacement, not type-checked.
func ExpandCommands(block string, params map[string]any) []string {
	if block == "" {
		return nil
	}

	var cmds []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for key, value := range params {
			line = strings.ReplaceAll(line, "{"+key+"}", fmt.Sprintf("%v", value))
		}
		cmds = append(cmds, line)
	}

	return cmds
}
