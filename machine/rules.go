package machine

import (
	"context"
	"time"

	"github.com/vxikit/vxidash/model"
)

// evaluateRule reports whether a single rule's condition holds. Evaluation is
// total: rules with missing fields, unknown types or operators, and sensor
// rules without a usable reading all evaluate to false.
func (s *Session) evaluateRule(ctx context.Context, rule model.Rule) bool {
	switch rule.Type {
	case model.RuleSensor:
		return s.evaluateSensorRule(ctx, rule)
	case model.RuleTimeInState:
		_, enteredAt := s.currentState()
		return s.elapsedAtLeast(enteredAt, rule.Seconds)
	case model.RuleTotalTime:
		return s.elapsedAtLeast(s.startedAt(), rule.Seconds)
	default:
		return false
	}
}

// evaluateSensorRule takes a fresh sample and compares the named signal's
// value against the rule threshold.
func (s *Session) evaluateSensorRule(ctx context.Context, rule model.Rule) bool {
	if rule.SignalName == "" || rule.Operator == "" || rule.Value == nil {
		return false
	}

	reading, err := s.sampler.CollectFromSetup(ctx, s.setupID)
	if err != nil || reading == nil || reading.Readings == nil {
		return false
	}

	sample, ok := reading.Readings[rule.SignalName]
	if !ok || sample.Value == nil {
		return false
	}

	satisfied, known := model.Compare(rule.Operator, *sample.Value, *rule.Value)

	return known && satisfied
}

// elapsedAtLeast reports whether at least seconds have passed since the given
// timestamp. The boundary is inclusive: exactly seconds elapsed fires. A zero
// timestamp or missing seconds field evaluates to false.
func (s *Session) elapsedAtLeast(since time.Time, seconds *float64) bool {
	if seconds == nil || since.IsZero() {
		return false
	}

	return s.now().Sub(since).Seconds() >= *seconds
}
