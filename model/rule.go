package model

// RuleType tags the rule variant.
type RuleType string

const (
	// RuleSensor compares the latest sampled value of a signal to a threshold.
	RuleSensor RuleType = "sensor"
	// RuleTimeInState fires once the session spent the given seconds in the
	// current state.
	RuleTimeInState RuleType = "timeInState"
	// RuleTotalTime fires once the session has run for the given seconds.
	RuleTotalTime RuleType = "totalTime"
)

// Comparison operators for sensor rules.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// Rule is one condition on a transition. Fields other than Type are
// variant-specific; pointers distinguish "absent" from zero, because a rule
// with a missing required field must evaluate to false rather than fail.
type Rule struct {
	Type RuleType `json:"type"`

	// sensor rule
	SignalName string   `json:"signalName,omitempty"`
	Operator   string   `json:"operator,omitempty"`
	Value      *float64 `json:"value,omitempty"`

	// time rules
	Seconds *float64 `json:"seconds,omitempty"`
}

// Compare applies the rule's operator to (current, threshold). The second
// return value reports whether the operator was recognized.
func Compare(operator string, current, threshold float64) (bool, bool) {
	switch operator {
	case OpGreater:
		return current > threshold, true
	case OpLess:
		return current < threshold, true
	case OpGreaterEqual:
		return current >= threshold, true
	case OpLessEqual:
		return current <= threshold, true
	case OpEqual:
		return current == threshold, true
	case OpNotEqual:
		return current != threshold, true
	default:
		return false, false
	}
}

// SensorRule builds a sensor rule.
func SensorRule(signalName, operator string, value float64) Rule {
	return Rule{Type: RuleSensor, SignalName: signalName, Operator: operator, Value: &value}
}

// TimeInStateRule builds a time-in-state rule.
func TimeInStateRule(seconds float64) Rule {
	return Rule{Type: RuleTimeInState, Seconds: &seconds}
}

// TotalTimeRule builds a total-time rule.
func TotalTimeRule(seconds float64) Rule {
	return Rule{Type: RuleTotalTime, Seconds: &seconds}
}
